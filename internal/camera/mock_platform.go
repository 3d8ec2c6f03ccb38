package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// MockPlatform はテスト用のPlatform実装
type MockPlatform struct {
	mu sync.Mutex

	devices     []DeviceHandle
	audio       *DeviceHandle
	discoverErr error
	lockErrors  map[string]error
	authStatus  map[MediaType]AuthStatus
	grantAccess bool

	// デバイスごとの設定状態
	focusModes    map[string]FocusMode
	exposureModes map[string]ExposureMode
	focusPoints   map[string]Point
	torchDevices  map[string]bool
	torchActive   map[string]bool

	// 自動応答用
	autoDeliverPhoto   bool
	photoOrientation   ImageOrientation
	stabilization      bool
	sessions           []*MockSession
	rejectInputDevices map[string]bool
	rejectOutputs      map[string]bool
}

// NewMockPlatform は新しいMockPlatformを作成する
func NewMockPlatform(devices []DeviceHandle) *MockPlatform {
	return &MockPlatform{
		devices:            devices,
		lockErrors:         make(map[string]error),
		authStatus:         map[MediaType]AuthStatus{MediaTypeVideo: AuthNotDetermined, MediaTypeAudio: AuthNotDetermined},
		grantAccess:        true,
		focusModes:         make(map[string]FocusMode),
		exposureModes:      make(map[string]ExposureMode),
		focusPoints:        make(map[string]Point),
		torchDevices:       make(map[string]bool),
		torchActive:        make(map[string]bool),
		photoOrientation:   ImageUp,
		stabilization:      true,
		rejectInputDevices: make(map[string]bool),
		rejectOutputs:      make(map[string]bool),
	}
}

// NewMockCameraPair は前面・背面の2台を持つMockPlatformを作成する
func NewMockCameraPair() *MockPlatform {
	return NewMockPlatform([]DeviceHandle{
		{ID: "mock-back", Name: "テストカメラ (背面)", Path: "/dev/video0", Position: PositionBack, MediaType: MediaTypeVideo},
		{ID: "mock-front", Name: "テストカメラ (前面)", Path: "/dev/video2", Position: PositionFront, MediaType: MediaTypeVideo},
	})
}

// DiscoverDevices はモックデバイス一覧を返す
func (m *MockPlatform) DiscoverDevices(_ context.Context) ([]DeviceHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	result := make([]DeviceHandle, len(m.devices))
	copy(result, m.devices)
	return result, nil
}

// DefaultAudioDevice はモック音声デバイスを返す
func (m *MockPlatform) DefaultAudioDevice(_ context.Context) (DeviceHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio == nil {
		return DeviceHandle{}, false
	}
	return *m.audio, true
}

// LockForConfiguration はモックデバイスをロックする
func (m *MockPlatform) LockForConfiguration(device DeviceHandle) (DeviceConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lockErrors[device.ID]; err != nil {
		return nil, err
	}
	return &mockDeviceConfiguration{platform: m, id: device.ID}, nil
}

// NewSession はモックセッションを作成する
func (m *MockPlatform) NewSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &MockSession{platform: m}
	m.sessions = append(m.sessions, s)
	return s
}

// AuthorizationStatus はモックの許可状態を返す
func (m *MockPlatform) AuthorizationStatus(mediaType MediaType) AuthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authStatus[mediaType]
}

// RequestAccess は設定に従って許可・拒否する
func (m *MockPlatform) RequestAccess(mediaType MediaType, completion AccessCompletion) {
	m.mu.Lock()
	granted := m.grantAccess
	if granted {
		m.authStatus[mediaType] = AuthAuthorized
	} else {
		m.authStatus[mediaType] = AuthDenied
	}
	m.mu.Unlock()

	go completion(granted)
}

// テスト制御用

// SetDiscoverError はDiscoverDevicesが返すエラーを設定する
func (m *MockPlatform) SetDiscoverError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverErr = err
}

// SetAudioDevice は既定の音声デバイスを設定する
func (m *MockPlatform) SetAudioDevice(device *DeviceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = device
}

// SetLockError は指定デバイスのロック失敗を設定する
func (m *MockPlatform) SetLockError(deviceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockErrors[deviceID] = err
}

// SetGrantAccess はアクセス要求の結果を設定する
func (m *MockPlatform) SetGrantAccess(grant bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantAccess = grant
}

// SetTorchAvailable は指定デバイスのトーチ有無を設定する
func (m *MockPlatform) SetTorchAvailable(deviceID string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.torchDevices[deviceID] = available
}

// TorchActive は指定デバイスのトーチ点灯状態を返す
func (m *MockPlatform) TorchActive(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.torchActive[deviceID]
}

// FocusMode は指定デバイスに設定されたフォーカスモードを返す
func (m *MockPlatform) FocusMode(deviceID string) FocusMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focusModes[deviceID]
}

// FocusPoint は指定デバイスに設定されたフォーカス位置を返す
func (m *MockPlatform) FocusPoint(deviceID string) (Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.focusPoints[deviceID]
	return p, ok
}

// SetRejectInput は指定デバイスの入力追加を拒否させる
func (m *MockPlatform) SetRejectInput(deviceID string, reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectInputDevices[deviceID] = reject
}

// SetRejectOutput は指定種別の出力追加を拒否させる
func (m *MockPlatform) SetRejectOutput(kind string, reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectOutputs[kind] = reject
}

// SetAutoDeliverPhoto は撮影結果を自動で返すか設定する
func (m *MockPlatform) SetAutoDeliverPhoto(auto bool, orientation ImageOrientation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoDeliverPhoto = auto
	m.photoOrientation = orientation
}

// Session は最後に作成されたモックセッションを返す
func (m *MockPlatform) Session() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// mockDeviceConfiguration はロック中のモックデバイス
type mockDeviceConfiguration struct {
	platform *MockPlatform
	id       string
}

func (d *mockDeviceConfiguration) SetFocusMode(mode FocusMode) bool {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	d.platform.focusModes[d.id] = mode
	return true
}

func (d *mockDeviceConfiguration) SetFocusPointOfInterest(p Point) bool {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	d.platform.focusPoints[d.id] = p
	return true
}

func (d *mockDeviceConfiguration) SetExposureMode(mode ExposureMode) bool {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	d.platform.exposureModes[d.id] = mode
	return true
}

func (d *mockDeviceConfiguration) SetExposurePointOfInterest(Point) bool {
	return true
}

func (d *mockDeviceConfiguration) ExposureMode() ExposureMode {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	return d.platform.exposureModes[d.id]
}

func (d *mockDeviceConfiguration) HasTorch() bool {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	return d.platform.torchDevices[d.id]
}

func (d *mockDeviceConfiguration) TorchActive() bool {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	return d.platform.torchActive[d.id]
}

func (d *mockDeviceConfiguration) SetTorch(on bool) error {
	d.platform.mu.Lock()
	defer d.platform.mu.Unlock()
	if !d.platform.torchDevices[d.id] {
		return fmt.Errorf("モック: トーチがありません: %s", d.id)
	}
	d.platform.torchActive[d.id] = on
	return nil
}

func (d *mockDeviceConfiguration) Unlock() {}

// mockInput はモック入力
type mockInput struct {
	device DeviceHandle
}

func (i *mockInput) Device() DeviceHandle {
	return i.device
}

// MockSession はテスト用のSession実装
type MockSession struct {
	platform *MockPlatform

	mu          sync.Mutex
	inputs      []Input
	outputs     []Output
	running     bool
	openBracket int
	maxBrackets int
	commits     int

	photo *MockPhotoOutput
	movie *MockMovieOutput
}

func (s *MockSession) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openBracket++
	if s.openBracket > s.maxBrackets {
		s.maxBrackets = s.openBracket
	}
}

func (s *MockSession) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openBracket--
	s.commits++
}

func (s *MockSession) NewInput(device DeviceHandle) (Input, error) {
	return &mockInput{device: device}, nil
}

func (s *MockSession) CanAddInput(input Input) bool {
	s.platform.mu.Lock()
	reject := s.platform.rejectInputDevices[input.Device().ID]
	s.platform.mu.Unlock()
	return !reject
}

func (s *MockSession) AddInput(input Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
}

func (s *MockSession) RemoveInput(input Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, in := range s.inputs {
		if in == input {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			return
		}
	}
}

func (s *MockSession) HasInput(input Input) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.inputs {
		if in == input {
			return true
		}
	}
	return false
}

func (s *MockSession) NewPhotoOutput() PhotoOutput {
	return &MockPhotoOutput{platform: s.platform}
}

func (s *MockSession) NewMovieOutput() MovieOutput {
	s.platform.mu.Lock()
	defer s.platform.mu.Unlock()
	return &MockMovieOutput{stabilization: s.platform.stabilization}
}

func (s *MockSession) CanAddOutput(output Output) bool {
	s.platform.mu.Lock()
	reject := s.platform.rejectOutputs[output.Kind()]
	s.platform.mu.Unlock()
	return !reject
}

func (s *MockSession) AddOutput(output Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, output)
	switch o := output.(type) {
	case *MockPhotoOutput:
		s.photo = o
	case *MockMovieOutput:
		s.movie = o
	}
}

func (s *MockSession) StartRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *MockSession) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *MockSession) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// VideoInputs は接続中の映像入力のデバイスを返す
func (s *MockSession) VideoInputs() []DeviceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices []DeviceHandle
	for _, in := range s.inputs {
		if in.Device().MediaType == MediaTypeVideo {
			devices = append(devices, in.Device())
		}
	}
	return devices
}

// InputCount は接続中の入力数を返す
func (s *MockSession) InputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// OutputCount は接続中の出力数を返す
func (s *MockSession) OutputCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputs)
}

// MaxOpenBrackets は同時に開いていた構成ブラケットの最大数を返す
func (s *MockSession) MaxOpenBrackets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBrackets
}

// Commits はコミット回数を返す
func (s *MockSession) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// PhotoOutput は追加済みの写真出力を返す
func (s *MockSession) PhotoOutput() *MockPhotoOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photo
}

// MovieOutput は追加済みの動画出力を返す
func (s *MockSession) MovieOutput() *MockMovieOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movie
}

// MockPhotoOutput はテスト用の写真出力。既定では結果を保留する
type MockPhotoOutput struct {
	platform *MockPlatform

	mu       sync.Mutex
	pending  []CaptureDelegate
	settings []PhotoSettings
}

func (o *MockPhotoOutput) Kind() string {
	return "photo"
}

// CapturePhoto は撮影要求を記録する
func (o *MockPhotoOutput) CapturePhoto(settings PhotoSettings, delegate CaptureDelegate) {
	o.platform.mu.Lock()
	auto := o.platform.autoDeliverPhoto
	orientation := o.platform.photoOrientation
	o.platform.mu.Unlock()

	o.mu.Lock()
	o.settings = append(o.settings, settings)
	if !auto {
		o.pending = append(o.pending, delegate)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	go func() {
		data, err := MockJPEG(64, 48)
		if err != nil {
			delegate.OnPhotoFailed(err)
			return
		}
		delegate.OnPhotoReady(&SampleBuffer{Data: data, Orientation: orientation})
	}()
}

// Pending は保留中の撮影要求数を返す
func (o *MockPhotoOutput) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// LastSettings は最後の撮影設定を返す
func (o *MockPhotoOutput) LastSettings() PhotoSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.settings) == 0 {
		return PhotoSettings{}
	}
	return o.settings[len(o.settings)-1]
}

// Deliver は最も古い保留中の要求にバッファを返す
func (o *MockPhotoOutput) Deliver(buf *SampleBuffer) bool {
	delegate, ok := o.pop()
	if !ok {
		return false
	}
	delegate.OnPhotoReady(buf)
	return true
}

// Fail は最も古い保留中の要求を失敗させる
func (o *MockPhotoOutput) Fail(err error) bool {
	delegate, ok := o.pop()
	if !ok {
		return false
	}
	delegate.OnPhotoFailed(err)
	return true
}

func (o *MockPhotoOutput) pop() (CaptureDelegate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return nil, false
	}
	delegate := o.pending[0]
	o.pending = o.pending[1:]
	return delegate, true
}

// MockMovieOutput はテスト用の動画出力
type MockMovieOutput struct {
	stabilization bool

	mu        sync.Mutex
	recording bool
	path      string
	conn      ConnectionSettings
	delegate  CaptureDelegate
	starts    int
	stops     int
}

func (o *MockMovieOutput) Kind() string {
	return "movie"
}

func (o *MockMovieOutput) SupportsStabilization() bool {
	return o.stabilization
}

func (o *MockMovieOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording
}

// StartRecording は録画状態にする
func (o *MockMovieOutput) StartRecording(path string, conn ConnectionSettings, delegate CaptureDelegate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recording = true
	o.path = path
	o.conn = conn
	o.delegate = delegate
	o.starts++
}

// StopRecording は録画を止め、非同期に完了を通知する
func (o *MockMovieOutput) StopRecording() {
	o.mu.Lock()
	if !o.recording {
		o.mu.Unlock()
		return
	}
	o.recording = false
	o.stops++
	path, delegate := o.path, o.delegate
	o.mu.Unlock()

	go delegate.OnRecordingFinished(path)
}

// FailRecording は録画中の失敗を発生させる
func (o *MockMovieOutput) FailRecording(err error) {
	o.mu.Lock()
	if !o.recording {
		o.mu.Unlock()
		return
	}
	o.recording = false
	path, delegate := o.path, o.delegate
	o.mu.Unlock()

	delegate.OnRecordingFailed(path, err)
}

// Path は最後の録画先を返す
func (o *MockMovieOutput) Path() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path
}

// Connection は最後の録画のコネクション設定を返す
func (o *MockMovieOutput) Connection() ConnectionSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn
}

// Counts は開始・停止回数を返す
func (o *MockMovieOutput) Counts() (starts, stops int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.starts, o.stops
}

// MockJPEG はテスト用の単色JPEGを生成する
func MockJPEG(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("JPEGのエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
