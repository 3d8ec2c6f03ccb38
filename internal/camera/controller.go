package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// movieFileExtension は録画ファイルの拡張子
const movieFileExtension = ".mov"

// Options はControllerの生成オプション
type Options struct {
	Platform  Platform
	Main      Dispatcher // 完了通知を届けるコンテキスト。nilなら専用キューを作る
	Listener  Listener
	Logger    hclog.Logger
	OutputDir string // 録画の出力先。空なら一時ディレクトリ
	FlashMode FlashMode
	QueueSize int

	// CancelSupersededPhoto が真の場合、置き換えられた撮影要求に
	// ErrPhotoRequestSuperseded を通知する。偽なら黙って破棄する
	CancelSupersededPhoto bool
}

// Controller はキャプチャセッションのライフサイクルを管理する。
// セッションを変更する操作はすべて単一のワーカーキューで直列に実行される
type Controller struct {
	platform Platform
	session  Session
	worker   *SerialQueue
	main     Dispatcher
	ownMain  *SerialQueue
	adapter  *captureAdapter
	logger   hclog.Logger
	tasks    BackgroundTasks

	cancelSupersededPhoto bool

	mu                 sync.RWMutex
	listener           Listener
	setupResult        SetupResult
	position           Position
	flashMode          FlashMode
	focusMode          FocusMode
	outputDir          string
	stabilization      StabilizationMode
	previewOrientation VideoOrientation

	frontCamera *DeviceHandle
	backCamera  *DeviceHandle
	frontInput  Input
	backInput   Input
	photoOutput PhotoOutput
	movieOutput MovieOutput

	pendingPhoto       PhotoCompletion
	recordingRequested bool // 呼び出し側から見た録画状態。ワーカーより先に更新される
	isRecording        bool
	recordingPath      string
	recordingTokens    map[string]ResourceToken
	closed             bool
}

// NewController は新しいControllerを作成する
func NewController(opts Options) (*Controller, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("プラットフォームが指定されていません")
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = os.TempDir()
	}

	flashMode := opts.FlashMode
	if flashMode == "" {
		flashMode = FlashOff
	}

	listener := opts.Listener
	if listener == nil {
		listener = BaseListener{}
	}

	c := &Controller{
		platform:              opts.Platform,
		session:               opts.Platform.NewSession(),
		worker:                NewSerialQueue("camera-session", opts.QueueSize),
		main:                  opts.Main,
		logger:                logger.Named("camera"),
		cancelSupersededPhoto: opts.CancelSupersededPhoto,
		listener:              listener,
		setupResult:           SetupNotAuthorized,
		position:              PositionBack,
		flashMode:             flashMode,
		focusMode:             FocusContinuousAutoFocus,
		outputDir:             outputDir,
		stabilization:         StabilizationOff,
		previewOrientation:    VideoPortrait,
		recordingTokens:       make(map[string]ResourceToken),
	}

	if c.main == nil {
		c.ownMain = NewSerialQueue("main", opts.QueueSize)
		c.main = c.ownMain
	}

	c.adapter = &captureAdapter{c: c}

	return c, nil
}

// SetListener は通知先を差し替える。Controllerはリスナーの寿命を管理しない
func (c *Controller) SetListener(l Listener) {
	if l == nil {
		l = BaseListener{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Permissions はカメラとマイクのアクセス許可状態を返す
func (c *Controller) Permissions() PermissionsStatus {
	return PermissionsStatus{
		Camera: c.platform.AuthorizationStatus(MediaTypeVideo),
		Audio:  c.platform.AuthorizationStatus(MediaTypeAudio),
	}
}

// RequestVideoAccess はカメラへのアクセスを要求する
func (c *Controller) RequestVideoAccess(completion AccessCompletion) {
	c.requestAccess(MediaTypeVideo, completion)
}

// RequestAudioAccess はマイクへのアクセスを要求する
func (c *Controller) RequestAudioAccess(completion AccessCompletion) {
	c.requestAccess(MediaTypeAudio, completion)
}

func (c *Controller) requestAccess(mediaType MediaType, completion AccessCompletion) {
	c.platform.RequestAccess(mediaType, func(granted bool) {
		c.logger.Debug("アクセス要求の結果", "media", mediaType, "granted", granted)
		if completion == nil {
			return
		}
		c.main.Async(func() { completion(granted) })
	})
}

// Configure はデバイスを検出して入力と写真出力を構成し、セッションを開始する
func (c *Controller) Configure(ctx context.Context, completion ConfigurationCompletion) {
	c.worker.Async(func() {
		err := c.withConfiguration(func() error {
			if c.hasCurrentInput() {
				c.logger.Debug("セッションは構成済みです")
				return nil
			}
			if err := c.configureCaptureDevices(ctx); err != nil {
				return err
			}
			if err := c.configureDeviceInputs(); err != nil {
				return err
			}
			c.configurePhotoOutput()
			return nil
		})
		if err != nil {
			c.logger.Error("セッションの構成に失敗", "error", err)
			c.complete(completion, err)
			return
		}

		c.startRunning()
		c.complete(completion, nil)
	})
}

// ConfigureAudioInput は既定の音声入力をセッションに追加する
func (c *Controller) ConfigureAudioInput(ctx context.Context, completion ConfigurationCompletion) {
	c.worker.Async(func() {
		err := c.withConfiguration(func() error {
			device, ok := c.platform.DefaultAudioDevice(ctx)
			if !ok {
				return ErrInputsAreInvalid
			}

			input, err := c.session.NewInput(device)
			if err != nil {
				return fmt.Errorf("音声入力の作成に失敗: %w", err)
			}
			if c.session.CanAddInput(input) {
				c.session.AddInput(input)
			}
			return nil
		})
		if err != nil {
			c.logger.Warn("音声入力の構成に失敗", "error", err)
		}
		c.complete(completion, err)
	})
}

// ConfigureVideoOutput は動画ファイル出力をセッションに追加する。追加できない場合は何もしない
func (c *Controller) ConfigureVideoOutput(completion ConfigurationCompletion) {
	c.worker.Async(func() {
		err := c.withConfiguration(func() error {
			c.mu.Lock()
			defer c.mu.Unlock()

			if c.movieOutput != nil {
				return nil
			}

			output := c.session.NewMovieOutput()
			if !c.session.CanAddOutput(output) {
				c.logger.Warn("動画出力を追加できません")
				return nil
			}
			c.session.AddOutput(output)
			if output.SupportsStabilization() {
				c.stabilization = StabilizationAuto
			}
			c.movieOutput = output
			return nil
		})
		c.complete(completion, err)
	})
}

// Start はセッションを開始する。構成が完了していない場合は何もしない
func (c *Controller) Start() {
	if c.SetupResult() != SetupReadyToStart {
		return
	}

	c.worker.Async(c.startRunning)
}

// Stop はセッションを停止する。動作中でなければ何もしない
func (c *Controller) Stop() {
	if !c.session.IsRunning() {
		return
	}

	c.worker.Async(func() {
		if !c.session.IsRunning() {
			return
		}
		c.session.StopRunning()
		c.logger.Info("セッションを停止しました")

		listener := c.currentListener()
		c.main.Async(listener.SessionDidStopRunning)
	})
}

// AttachPreview はプレビューを接続し、向きを縦向きに戻す
func (c *Controller) AttachPreview() error {
	if !c.session.IsRunning() {
		return ErrCaptureSessionIsMissing
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.previewOrientation = VideoPortrait
	return nil
}

// UpdateOrientation は端末の向きに合わせてプレビューの向きを更新する
func (c *Controller) UpdateOrientation(o DeviceOrientation) VideoOrientation {
	v := PreviewOrientation(o)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.previewOrientation = v
	return v
}

// SwitchCamera は前面・背面カメラを切り替える。
// 新しい入力を追加できなかった場合、セッションにはカメラ入力が残らない
func (c *Controller) SwitchCamera(completion ConfigurationCompletion) error {
	if !c.session.IsRunning() {
		return ErrCaptureSessionIsMissing
	}

	c.worker.Async(func() {
		err := c.withConfiguration(c.switchCamera)
		if err != nil {
			c.logger.Error("カメラの切り替えに失敗", "error", err)
		}
		c.complete(completion, err)
	})
	return nil
}

// switchCamera はワーカー上で構成ブラケット内から呼ばれる
func (c *Controller) switchCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.position.Opposite()
	current := c.inputFor(c.position)
	device := c.deviceFor(target)

	if current == nil || !c.session.HasInput(current) || device == nil {
		return fmt.Errorf("%w: %s カメラへ切り替えできません", ErrInvalidOperation, target)
	}

	input, err := c.session.NewInput(*device)
	if err != nil {
		return fmt.Errorf("%w: 入力の作成に失敗: %v", ErrInvalidOperation, err)
	}

	c.session.RemoveInput(current)

	if !c.session.CanAddInput(input) {
		return fmt.Errorf("%w: %s カメラの入力を追加できません", ErrInvalidOperation, target)
	}
	c.session.AddInput(input)

	c.setInput(target, input)
	c.position = target
	c.logger.Info("カメラを切り替えました", "position", target, "device", device.Path)
	return nil
}

// CapturePhoto は静止画を撮影する。
// 完了前に再度呼ばれた場合、先の要求は後の要求で置き換えられる
func (c *Controller) CapturePhoto(settings PhotoSettings, completion PhotoCompletion) {
	if !c.session.IsRunning() {
		c.main.Async(func() {
			if completion != nil {
				completion(nil, ErrCaptureSessionIsMissing)
			}
		})
		return
	}

	c.worker.Async(func() {
		c.mu.Lock()
		output := c.photoOutput
		if output == nil {
			c.mu.Unlock()
			c.main.Async(func() {
				if completion != nil {
					completion(nil, fmt.Errorf("%w: 写真出力が構成されていません", ErrInvalidOperation))
				}
			})
			return
		}
		superseded := c.pendingPhoto
		c.pendingPhoto = completion
		settings.FlashMode = c.flashMode
		c.mu.Unlock()

		if superseded != nil {
			c.logger.Warn("未完了の撮影要求を置き換えます", "notify", c.cancelSupersededPhoto)
			if c.cancelSupersededPhoto {
				c.main.Async(func() { superseded(nil, ErrPhotoRequestSuperseded) })
			}
		}

		if settings.Format == "" {
			settings.Format = "jpeg"
		}
		output.CapturePhoto(settings, c.adapter)
	})
}

// StartRecording は録画を開始する。既に録画中であれば録画を停止する
func (c *Controller) StartRecording() error {
	output, orientation, err := c.recordingTarget()
	if err != nil {
		return err
	}

	c.mu.Lock()
	on := !c.recordingRequested
	c.recordingRequested = on
	c.mu.Unlock()

	c.queueRecording(output, orientation, on)
	return nil
}

// SetRecording は録画を開始または停止する。
// 既にその状態が要求済みであれば ErrInvalidOperation を返す
func (c *Controller) SetRecording(on bool) error {
	if !on {
		c.mu.Lock()
		output := c.movieOutput
		if !c.recordingRequested || output == nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: 録画していません", ErrInvalidOperation)
		}
		c.recordingRequested = false
		c.mu.Unlock()

		c.queueRecording(output, "", false)
		return nil
	}

	output, orientation, err := c.recordingTarget()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.recordingRequested {
		c.mu.Unlock()
		return fmt.Errorf("%w: 既に録画中です", ErrInvalidOperation)
	}
	c.recordingRequested = true
	c.mu.Unlock()

	c.queueRecording(output, orientation, true)
	return nil
}

// recordingTarget は録画開始の前提条件を確認し、出力と向きを返す
func (c *Controller) recordingTarget() (MovieOutput, VideoOrientation, error) {
	if !c.session.IsRunning() {
		return nil, "", ErrCaptureSessionIsMissing
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, "", fmt.Errorf("%w: コントローラーは終了しています", ErrInvalidOperation)
	}
	if c.movieOutput == nil {
		return nil, "", fmt.Errorf("%w: 動画出力が構成されていません", ErrInvalidOperation)
	}
	return c.movieOutput, c.previewOrientation, nil
}

// queueRecording は録画の開始または停止をワーカーに積む
func (c *Controller) queueRecording(output MovieOutput, orientation VideoOrientation, on bool) {
	c.worker.Async(func() {
		if on {
			c.startRecording(output, orientation)
			return
		}
		c.stopRecording(output)
	})
}

// startRecording はワーカー上で録画を開始する
func (c *Controller) startRecording(output MovieOutput, orientation VideoOrientation) {
	c.mu.RLock()
	outputDir := c.outputDir
	listener := c.listener
	closed := c.closed
	c.mu.RUnlock()

	if closed || output.IsRecording() {
		return
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		err = fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
		c.logger.Error("録画を開始できません", "error", err)

		c.mu.Lock()
		c.recordingRequested = false
		c.mu.Unlock()

		c.main.Async(func() { listener.DidFailToRecordVideo(err) })
		return
	}

	c.enableFlashIfNeeded()

	c.mu.Lock()
	position := c.position
	path := filepath.Join(outputDir, uuid.New().String()+movieFileExtension)
	conn := ConnectionSettings{
		Orientation:   orientation,
		Mirrored:      position == PositionFront,
		Stabilization: c.stabilization,
	}
	c.recordingTokens[path] = c.tasks.Begin()
	c.recordingPath = path
	c.isRecording = true
	c.mu.Unlock()

	c.logger.Info("録画を開始します", "path", path, "position", position, "orientation", orientation)
	output.StartRecording(path, conn, c.adapter)

	c.main.Async(func() { listener.DidBeginRecordingVideo(position) })
}

// StopRecording は録画を停止する。録画中でなければ何もしない
func (c *Controller) StopRecording() {
	c.mu.Lock()
	requested := c.recordingRequested
	output := c.movieOutput
	c.recordingRequested = false
	c.mu.Unlock()

	if !requested || output == nil {
		return
	}

	c.queueRecording(output, "", false)
}

// stopRecording はワーカー上で録画を停止する
func (c *Controller) stopRecording(output MovieOutput) {
	c.mu.Lock()
	if !c.isRecording && !output.IsRecording() {
		c.mu.Unlock()
		return
	}
	c.isRecording = false
	position := c.position
	listener := c.listener
	c.mu.Unlock()

	output.StopRecording()
	c.disableFlashIfNeeded()

	c.logger.Info("録画を停止しました", "position", position)
	c.main.Async(func() { listener.DidFinishRecordingVideo(position) })
}

// FocusAt は指定位置にフォーカスと露出を合わせる。ロック失敗はログに残して無視する
func (c *Controller) FocusAt(p Point) {
	c.worker.Async(func() {
		device, ok := c.CurrentDevice()
		if !ok {
			return
		}

		cfg, err := c.platform.LockForConfiguration(device)
		if err != nil {
			c.logger.Warn("フォーカス設定のロックに失敗", "device", device.Path, "error", err)
			return
		}
		defer cfg.Unlock()

		if cfg.ExposureMode() != ExposureContinuousAuto {
			cfg.SetExposureMode(ExposureContinuousAuto)
		}
		cfg.SetFocusPointOfInterest(p)
		cfg.SetExposurePointOfInterest(p)

		c.mu.RLock()
		mode := c.focusMode
		c.mu.RUnlock()
		cfg.SetFocusMode(mode)
	})
}

// Close は新しい録画を受け付けなくし、録画の終了を待ってからワーカーを停止する
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.StopRecording()
	// キュー済みの録画操作を先に反映させる
	c.worker.Sync(func() {})

	var waitErr error
	select {
	case <-c.tasks.Wait():
	case <-ctx.Done():
		waitErr = fmt.Errorf("録画の終了待ちを中断: %w", ctx.Err())
	}

	c.Stop()
	c.worker.Close()
	if c.ownMain != nil {
		c.ownMain.Close()
	}

	return waitErr
}

// 状態取得（任意のゴルーチンから呼び出せる）

// IsRunning はセッションが動作中か返す
func (c *Controller) IsRunning() bool {
	return c.session.IsRunning()
}

// IsRecording は録画中か返す
func (c *Controller) IsRecording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRecording
}

// SetupResult はセッションの準備状態を返す
func (c *Controller) SetupResult() SetupResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.setupResult
}

// Position は現在のカメラ位置を返す
func (c *Controller) Position() Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// CurrentDevice は現在入力に使われているデバイスを返す
func (c *Controller) CurrentDevice() (DeviceHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	input := c.inputFor(c.position)
	if input == nil {
		return DeviceHandle{}, false
	}
	return input.Device(), true
}

// FlashMode は現在のフラッシュ設定を返す
func (c *Controller) FlashMode() FlashMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flashMode
}

// SetFlashMode はフラッシュ設定を変更する
func (c *Controller) SetFlashMode(mode FlashMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flashMode = mode
}

// OutputDir は録画の出力先を返す
func (c *Controller) OutputDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outputDir
}

// SetOutputDir は録画の出力先を変更する。次の録画から反映される
func (c *Controller) SetOutputDir(dir string) {
	if dir == "" {
		dir = os.TempDir()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputDir = dir
}

// Status は確定済みの状態を返す
func (c *Controller) Status() Status {
	running := c.session.IsRunning()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		Running:     running,
		Recording:   c.isRecording,
		SetupResult: c.setupResult,
		Position:    c.position,
		FlashMode:   c.flashMode,
		FocusMode:   c.focusMode,
		OutputDir:   c.outputDir,
		Orientation: c.previewOrientation,
		HasMovie:    c.movieOutput != nil,
	}
	if input := c.inputFor(c.position); input != nil {
		status.Device = input.Device().Path
	}
	return status
}

// 内部処理

// withConfiguration は fn を1つの構成ブラケットで囲む
func (c *Controller) withConfiguration(fn func() error) error {
	c.session.BeginConfiguration()
	defer c.session.CommitConfiguration()
	return fn()
}

// configureCaptureDevices は映像デバイスを検出して前面・背面を選ぶ
func (c *Controller) configureCaptureDevices(ctx context.Context) error {
	devices, err := c.platform.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("デバイスの検出に失敗: %w", err)
	}
	if len(devices) == 0 {
		return ErrNoCamerasAvailable
	}

	var front, back *DeviceHandle
	for i := range devices {
		device := devices[i]
		switch device.Position {
		case PositionFront:
			front = &device
		case PositionBack:
			back = &device

			cfg, err := c.platform.LockForConfiguration(device)
			if err != nil {
				return fmt.Errorf("背面カメラのロックに失敗: %w", err)
			}
			cfg.SetFocusMode(FocusAuto)
			cfg.Unlock()
		}
	}

	c.mu.Lock()
	c.frontCamera = front
	c.backCamera = back
	c.mu.Unlock()

	c.logger.Info("カメラを検出しました", "count", len(devices), "front", front != nil, "back", back != nil)
	return nil
}

// configureDeviceInputs は背面を優先してカメラ入力を1つ追加する
func (c *Controller) configureDeviceInputs() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backCamera == nil && c.frontCamera == nil {
		return ErrNoCamerasAvailable
	}

	for _, position := range []Position{PositionBack, PositionFront} {
		device := c.deviceFor(position)
		if device == nil {
			continue
		}

		input, err := c.session.NewInput(*device)
		if err != nil {
			return fmt.Errorf("%s カメラの入力作成に失敗: %w", position, err)
		}
		if !c.session.CanAddInput(input) {
			c.logger.Warn("カメラ入力を追加できません", "position", position)
			continue
		}

		c.session.AddInput(input)
		c.setInput(position, input)
		c.position = position
		return nil
	}

	return ErrInputsAreInvalid
}

// configurePhotoOutput は写真出力を追加し、開始可能な状態にする
func (c *Controller) configurePhotoOutput() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.photoOutput == nil {
		output := c.session.NewPhotoOutput()
		if c.session.CanAddOutput(output) {
			c.session.AddOutput(output)
			c.photoOutput = output
		} else {
			c.logger.Warn("写真出力を追加できません")
		}
	}
	c.setupResult = SetupReadyToStart
}

// startRunning はワーカー上でセッションを開始する
func (c *Controller) startRunning() {
	if c.session.IsRunning() {
		return
	}
	c.session.StartRunning()
	c.logger.Info("セッションを開始しました", "position", c.Position())

	listener := c.currentListener()
	c.main.Async(listener.SessionDidStartRunning)
}

// enableFlashIfNeeded はフラッシュがオンならトーチを点灯する
func (c *Controller) enableFlashIfNeeded() {
	if c.FlashMode() == FlashOn {
		c.setTorch(true)
	}
}

// disableFlashIfNeeded はフラッシュがオンならトーチを消灯する
func (c *Controller) disableFlashIfNeeded() {
	if c.FlashMode() == FlashOn {
		c.setTorch(false)
	}
}

// setTorch は背面カメラのトーチを切り替える。失敗はログのみ
func (c *Controller) setTorch(on bool) {
	c.mu.RLock()
	position := c.position
	back := c.backCamera
	c.mu.RUnlock()

	if position != PositionBack || back == nil {
		return
	}

	cfg, err := c.platform.LockForConfiguration(*back)
	if err != nil {
		c.logger.Warn("トーチ設定のロックに失敗", "error", err)
		return
	}
	defer cfg.Unlock()

	if !cfg.HasTorch() || cfg.TorchActive() == on {
		return
	}
	if err := cfg.SetTorch(on); err != nil {
		c.logger.Warn("トーチの切り替えに失敗", "on", on, "error", err)
	}
}

// complete は完了コールバックをメインコンテキストで呼ぶ
func (c *Controller) complete(completion ConfigurationCompletion, err error) {
	if completion == nil {
		return
	}
	c.main.Async(func() { completion(err) })
}

func (c *Controller) currentListener() Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

func (c *Controller) hasCurrentInput() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	input := c.inputFor(c.position)
	return input != nil && c.session.HasInput(input)
}

// 以下はロック済み前提

func (c *Controller) inputFor(p Position) Input {
	if p == PositionFront {
		return c.frontInput
	}
	return c.backInput
}

func (c *Controller) setInput(p Position, input Input) {
	if p == PositionFront {
		c.frontInput = input
	} else {
		c.backInput = input
	}
}

func (c *Controller) deviceFor(p Position) *DeviceHandle {
	if p == PositionFront {
		return c.frontCamera
	}
	return c.backCamera
}
