package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// V4L2Options はV4L2Platformの設定
type V4L2Options struct {
	Width     int
	Height    int
	FPS       int
	Positions map[string]Position // デバイスパス → 位置
	Logger    hclog.Logger
}

// V4L2Platform はv4l2-ctlとffmpegを使うLinux向けPlatform実装
type V4L2Platform struct {
	discovery *LinuxDiscovery
	width     int
	height    int
	fps       int
	logger    hclog.Logger
	run       commandRunner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewV4L2Platform は新しいV4L2Platformを作成する
func NewV4L2Platform(opts V4L2Options) *V4L2Platform {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("v4l2")

	p := &V4L2Platform{
		discovery: NewLinuxDiscovery(opts.Positions, logger),
		width:     opts.Width,
		height:    opts.Height,
		fps:       opts.FPS,
		logger:    logger,
		run:       execCommand,
		locks:     make(map[string]*sync.Mutex),
	}
	if p.width <= 0 || p.height <= 0 {
		p.width, p.height = 1280, 720
	}
	if p.fps <= 0 {
		p.fps = 30
	}
	return p
}

// ValidateTools は ffmpeg と v4l2-ctl が利用可能かチェックする
func (p *V4L2Platform) ValidateTools(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.run(ctx, "ffmpeg", "-version"); err != nil {
		return fmt.Errorf("FFmpegが見つかりません。インストールしてください: %w", err)
	}
	if _, err := p.run(ctx, "v4l2-ctl", "--version"); err != nil {
		return fmt.Errorf("v4l2-ctlが見つかりません。v4l-utilsをインストールしてください: %w", err)
	}
	return nil
}

// DiscoverDevices はV4L2デバイスを検出する
func (p *V4L2Platform) DiscoverDevices(ctx context.Context) ([]DeviceHandle, error) {
	return p.discovery.Discover(ctx)
}

// DefaultAudioDevice はALSAのキャプチャデバイスがあれば既定デバイスを返す
func (p *V4L2Platform) DefaultAudioDevice(_ context.Context) (DeviceHandle, bool) {
	matches, _ := filepath.Glob("/dev/snd/pcmC*D*c")
	if len(matches) == 0 {
		return DeviceHandle{}, false
	}
	return DeviceHandle{
		ID:        "alsa-default",
		Name:      "ALSA default",
		Path:      "default",
		MediaType: MediaTypeAudio,
	}, true
}

// LockForConfiguration はデバイスを排他ロックする。開けないデバイスはエラー
func (p *V4L2Platform) LockForConfiguration(device DeviceHandle) (DeviceConfiguration, error) {
	file, err := os.OpenFile(device.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s を開けません: %w", device.Path, err)
	}
	_ = file.Close()

	p.mu.Lock()
	lock, ok := p.locks[device.ID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[device.ID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return &v4l2DeviceConfiguration{platform: p, device: device, lock: lock, exposure: ExposureAuto}, nil
}

// NewSession は新しいセッションを作成する
func (p *V4L2Platform) NewSession() Session {
	return &v4l2Session{platform: p}
}

// AuthorizationStatus はデバイスファイルのアクセス権から許可状態を判定する
func (p *V4L2Platform) AuthorizationStatus(mediaType MediaType) AuthStatus {
	pattern := "/dev/video*"
	if mediaType == MediaTypeAudio {
		pattern = "/dev/snd/pcmC*D*c"
	}

	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return AuthNotDetermined
	}

	status := AuthRestricted
	for _, path := range matches {
		file, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err == nil {
			_ = file.Close()
			return AuthAuthorized
		}
		if errors.Is(err, os.ErrPermission) {
			status = AuthDenied
		}
	}
	return status
}

// RequestAccess は現在の権限を再評価して結果を返す。
// Linuxでは対話的な許可は無いため、videoグループへの参加が必要
func (p *V4L2Platform) RequestAccess(mediaType MediaType, completion AccessCompletion) {
	go func() {
		status := p.AuthorizationStatus(mediaType)
		if status != AuthAuthorized {
			p.logger.Warn("デバイスへのアクセス権がありません", "media", mediaType, "status", status,
				"hint", "sudo usermod -a -G video,audio $USER")
		}
		completion(status == AuthAuthorized)
	}()
}

// v4l2DeviceConfiguration はv4l2-ctlでコントロールを設定する
type v4l2DeviceConfiguration struct {
	platform *V4L2Platform
	device   DeviceHandle
	lock     *sync.Mutex
	exposure ExposureMode
	once     sync.Once
}

func (d *v4l2DeviceConfiguration) SetFocusMode(mode FocusMode) bool {
	value := "0"
	if mode == FocusAuto || mode == FocusContinuousAutoFocus {
		value = "1"
	}
	return d.setControl("focus_automatic_continuous", value) == nil
}

// フォーカス・露出の注目点はUVCでは設定できない
func (d *v4l2DeviceConfiguration) SetFocusPointOfInterest(Point) bool    { return false }
func (d *v4l2DeviceConfiguration) SetExposurePointOfInterest(Point) bool { return false }

func (d *v4l2DeviceConfiguration) SetExposureMode(mode ExposureMode) bool {
	// 1: マニュアル, 3: 絞り優先（自動）
	value := "1"
	if mode == ExposureAuto || mode == ExposureContinuousAuto {
		value = "3"
	}
	if err := d.setControl("auto_exposure", value); err != nil {
		return false
	}
	d.exposure = mode
	return true
}

func (d *v4l2DeviceConfiguration) ExposureMode() ExposureMode { return d.exposure }

func (d *v4l2DeviceConfiguration) HasTorch() bool    { return false }
func (d *v4l2DeviceConfiguration) TorchActive() bool { return false }

func (d *v4l2DeviceConfiguration) SetTorch(bool) error {
	return fmt.Errorf("%w: %s にはトーチがありません", ErrInvalidOperation, d.device.Path)
}

func (d *v4l2DeviceConfiguration) Unlock() {
	d.once.Do(d.lock.Unlock)
}

func (d *v4l2DeviceConfiguration) setControl(name, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.platform.run(ctx, "v4l2-ctl", "--device", d.device.Path, "--set-ctrl", name+"="+value)
	if err != nil {
		d.platform.logger.Debug("コントロールの設定に失敗", "device", d.device.Path, "control", name, "error", err)
	}
	return err
}

// v4l2Input はデバイスを表す入力
type v4l2Input struct {
	device DeviceHandle
}

func (i *v4l2Input) Device() DeviceHandle { return i.device }

// v4l2Session は入出力の接続状態を保持する。キャプチャ自体は出力ごとにffmpegで行う
type v4l2Session struct {
	platform *V4L2Platform

	mu      sync.RWMutex
	inputs  []Input
	outputs []Output
	running bool
}

func (s *v4l2Session) BeginConfiguration()  {}
func (s *v4l2Session) CommitConfiguration() {}

func (s *v4l2Session) NewInput(device DeviceHandle) (Input, error) {
	if device.MediaType == MediaTypeVideo && !isDeviceReadable(device.Path) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device.Path)
	}
	return &v4l2Input{device: device}, nil
}

func (s *v4l2Session) CanAddInput(input Input) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, in := range s.inputs {
		if in == input || in.Device().MediaType == input.Device().MediaType {
			return false
		}
	}
	return true
}

func (s *v4l2Session) AddInput(input Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
}

func (s *v4l2Session) RemoveInput(input Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, in := range s.inputs {
		if in == input {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			return
		}
	}
}

func (s *v4l2Session) HasInput(input Input) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.inputs {
		if in == input {
			return true
		}
	}
	return false
}

// recording は動画出力が録画中か返す
func (s *v4l2Session) recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, out := range s.outputs {
		if movie, ok := out.(MovieOutput); ok && movie.IsRecording() {
			return true
		}
	}
	return false
}

func (s *v4l2Session) NewPhotoOutput() PhotoOutput {
	return &v4l2PhotoOutput{session: s}
}

func (s *v4l2Session) NewMovieOutput() MovieOutput {
	return &v4l2MovieOutput{session: s}
}

func (s *v4l2Session) CanAddOutput(output Output) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, out := range s.outputs {
		if out.Kind() == output.Kind() {
			return false
		}
	}
	return true
}

func (s *v4l2Session) AddOutput(output Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, output)
}

func (s *v4l2Session) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *v4l2Session) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *v4l2Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// input は指定メディアの接続中の入力を返す
func (s *v4l2Session) input(mediaType MediaType) (DeviceHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.inputs {
		if in.Device().MediaType == mediaType {
			return in.Device(), true
		}
	}
	return DeviceHandle{}, false
}

// v4l2PhotoOutput はffmpegで1フレームをJPEGとして取得する
type v4l2PhotoOutput struct {
	session *v4l2Session
}

func (o *v4l2PhotoOutput) Kind() string { return "photo" }

func (o *v4l2PhotoOutput) CapturePhoto(settings PhotoSettings, delegate CaptureDelegate) {
	p := o.session.platform
	device, ok := o.session.input(MediaTypeVideo)
	if !ok {
		go delegate.OnPhotoFailed(ErrInputsAreInvalid)
		return
	}
	// 録画中のffmpegがデバイスを占有している
	if o.session.recording() {
		go delegate.OnPhotoFailed(fmt.Errorf("%w: 録画中は撮影できません", ErrInvalidOperation))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data, err := p.run(ctx, "ffmpeg", photoArgs(device.Path, p.width, p.height)...)
		if err != nil {
			delegate.OnPhotoFailed(fmt.Errorf("フレームキャプチャに失敗: %w", err))
			return
		}
		if len(data) == 0 {
			delegate.OnPhotoFailed(ErrNoSampleBuffer)
			return
		}
		delegate.OnPhotoReady(&SampleBuffer{Data: data, Orientation: ImageUp})
	}()
}

// v4l2MovieOutput はffmpegプロセスで動画ファイルを書き出す
type v4l2MovieOutput struct {
	session *v4l2Session

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
}

func (o *v4l2MovieOutput) Kind() string                { return "movie" }
func (o *v4l2MovieOutput) SupportsStabilization() bool { return true }

func (o *v4l2MovieOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cmd != nil
}

func (o *v4l2MovieOutput) StartRecording(path string, conn ConnectionSettings, delegate CaptureDelegate) {
	p := o.session.platform
	video, ok := o.session.input(MediaTypeVideo)
	if !ok {
		go delegate.OnRecordingFailed(path, ErrInputsAreInvalid)
		return
	}
	audio, hasAudio := o.session.input(MediaTypeAudio)
	if !hasAudio {
		audio = DeviceHandle{}
	}

	args := movieArgs(video.Path, audio.Path, p.width, p.height, p.fps, conn, path)
	cmd := exec.Command("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		go delegate.OnRecordingFailed(path, fmt.Errorf("stdinパイプの作成に失敗: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		go delegate.OnRecordingFailed(path, fmt.Errorf("ffmpegの起動に失敗: %w", err))
		return
	}

	o.mu.Lock()
	o.cmd = cmd
	o.stdin = stdin
	o.stopping = false
	o.mu.Unlock()

	p.logger.Debug("ffmpegで録画を開始", "args", args)

	go func() {
		waitErr := cmd.Wait()

		o.mu.Lock()
		stopping := o.stopping
		o.cmd = nil
		o.stdin = nil
		o.mu.Unlock()

		// 'q' で止めた場合は終了コードが非0でもファイルは完成している
		if waitErr != nil && !stopping {
			delegate.OnRecordingFailed(path, fmt.Errorf("ffmpegが異常終了: %w (stderr: %s)", waitErr, lastLine(stderr.String())))
			return
		}
		delegate.OnRecordingFinished(path)
	}()
}

func (o *v4l2MovieOutput) StopRecording() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cmd == nil || o.stopping {
		return
	}
	o.stopping = true
	if _, err := o.stdin.Write([]byte("q")); err != nil {
		_ = o.cmd.Process.Signal(os.Interrupt)
	}
	_ = o.stdin.Close()
}

// photoArgs は1フレームをJPEGで標準出力へ書き出すffmpeg引数を返す
func photoArgs(device string, width, height int) []string {
	return []string{
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"-",
	}
}

// movieArgs は録画用のffmpeg引数を返す。audio が空なら音声なし
func movieArgs(video, audio string, width, height, fps int, conn ConnectionSettings, output string) []string {
	args := []string{
		"-loglevel", "error",
		"-y",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(fps),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", video,
	}
	if audio != "" {
		args = append(args, "-f", "alsa", "-i", audio)
	}

	var filters []string
	if conn.Mirrored {
		filters = append(filters, "hflip")
	}
	if conn.Stabilization == StabilizationAuto {
		filters = append(filters, "deshake")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", joinFilters(filters))
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-metadata:s:v:0", "rotate="+strconv.Itoa(rotationDegrees(conn.Orientation)),
	)
	if audio != "" {
		args = append(args, "-c:a", "aac")
	}
	return append(args, output)
}

// rotationDegrees は動画の向きを表示時の回転角に変換する
func rotationDegrees(o VideoOrientation) int {
	switch o {
	case VideoPortrait:
		return 90
	case VideoLandscapeLeft:
		return 180
	default:
		return 0
	}
}

func joinFilters(filters []string) string {
	var b bytes.Buffer
	for i, f := range filters {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f)
	}
	return b.String()
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	return string(lines[len(lines)-1])
}

// execCommand は外部コマンドを実行して標準出力を返す
func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s の実行に失敗: %w (stderr: %s)", name, err, lastLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}
