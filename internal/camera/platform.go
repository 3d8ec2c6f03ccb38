package camera

import "context"

// Platform はキャプチャフレームワークを抽象化するインターフェース
type Platform interface {
	// DiscoverDevices は映像デバイスを列挙する
	DiscoverDevices(ctx context.Context) ([]DeviceHandle, error)

	// DefaultAudioDevice は既定の音声デバイスを返す
	DefaultAudioDevice(ctx context.Context) (DeviceHandle, bool)

	// LockForConfiguration はデバイスをロックして設定用のハンドルを返す
	LockForConfiguration(device DeviceHandle) (DeviceConfiguration, error)

	// NewSession はキャプチャセッションを作成する
	NewSession() Session

	// AuthorizationStatus はメディア種別ごとのアクセス許可状態を返す
	AuthorizationStatus(mediaType MediaType) AuthStatus

	// RequestAccess はアクセス許可を要求する。completion は任意のゴルーチンで呼ばれる
	RequestAccess(mediaType MediaType, completion AccessCompletion)
}

// DeviceConfiguration はロック中のデバイスに対する設定操作
type DeviceConfiguration interface {
	// 各Setterは非対応の場合 false を返す
	SetFocusMode(mode FocusMode) bool
	SetFocusPointOfInterest(p Point) bool
	SetExposureMode(mode ExposureMode) bool
	SetExposurePointOfInterest(p Point) bool
	ExposureMode() ExposureMode

	HasTorch() bool
	TorchActive() bool
	SetTorch(on bool) error

	// Unlock はロックを解放する
	Unlock()
}

// Input はセッションに接続される入力
type Input interface {
	Device() DeviceHandle
}

// Output はセッションに接続される出力
type Output interface {
	Kind() string
}

// Session はキャプチャパイプライン。入出力グラフの変更は Begin/Commit の間で行う
type Session interface {
	BeginConfiguration()
	CommitConfiguration()

	NewInput(device DeviceHandle) (Input, error)
	CanAddInput(input Input) bool
	AddInput(input Input)
	RemoveInput(input Input)
	HasInput(input Input) bool

	NewPhotoOutput() PhotoOutput
	NewMovieOutput() MovieOutput
	CanAddOutput(output Output) bool
	AddOutput(output Output)

	StartRunning()
	StopRunning()
	IsRunning() bool
}

// PhotoOutput は静止画出力
type PhotoOutput interface {
	Output
	// CapturePhoto は非同期に撮影し、結果を delegate に1回だけ通知する
	CapturePhoto(settings PhotoSettings, delegate CaptureDelegate)
}

// MovieOutput は動画ファイル出力
type MovieOutput interface {
	Output
	SupportsStabilization() bool
	IsRecording() bool
	// StartRecording は path への録画を開始し、終了時に delegate へ1回だけ通知する
	StartRecording(path string, conn ConnectionSettings, delegate CaptureDelegate)
	StopRecording()
}

// CaptureDelegate はプラットフォームからの非同期完了通知を受け取る
type CaptureDelegate interface {
	// OnPhotoReady はバッファを受け取る。buf が nil またはデコード不能の場合もある
	OnPhotoReady(buf *SampleBuffer)
	OnPhotoFailed(err error)
	OnRecordingFinished(path string)
	OnRecordingFailed(path string, err error)
}
