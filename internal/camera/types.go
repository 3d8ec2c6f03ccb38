package camera

import (
	"image"
	"time"
)

// Position はカメラの物理的な位置を表す
type Position string

const (
	PositionBack  Position = "back"  // 背面カメラ
	PositionFront Position = "front" // 前面カメラ
)

// Opposite は反対側の位置を返す
func (p Position) Opposite() Position {
	if p == PositionFront {
		return PositionBack
	}
	return PositionFront
}

// MediaType はデバイスが扱うメディアの種類
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// SetupResult はセッションの準備状態を表す
type SetupResult string

const (
	SetupNotAuthorized SetupResult = "not_authorized" // 開始不可
	SetupReadyToStart  SetupResult = "ready_to_start" // 開始可能
)

// FlashMode はフラッシュの設定
type FlashMode string

const (
	FlashOff  FlashMode = "off"
	FlashOn   FlashMode = "on"
	FlashAuto FlashMode = "auto"
)

// ParseFlashMode は文字列からFlashModeを得る
func ParseFlashMode(s string) (FlashMode, bool) {
	switch FlashMode(s) {
	case FlashOff, FlashOn, FlashAuto:
		return FlashMode(s), true
	}
	return FlashOff, false
}

// FocusMode はフォーカスモード
type FocusMode string

const (
	FocusLocked              FocusMode = "locked"
	FocusAuto                FocusMode = "auto"
	FocusContinuousAutoFocus FocusMode = "continuous_auto"
)

// ExposureMode は露出モード
type ExposureMode string

const (
	ExposureLocked         ExposureMode = "locked"
	ExposureAuto           ExposureMode = "auto"
	ExposureContinuousAuto ExposureMode = "continuous_auto"
)

// StabilizationMode は手ブレ補正モード
type StabilizationMode string

const (
	StabilizationOff  StabilizationMode = "off"
	StabilizationAuto StabilizationMode = "auto"
)

// AuthStatus はデバイスへのアクセス許可状態
type AuthStatus string

const (
	AuthNotDetermined AuthStatus = "not_determined"
	AuthDenied        AuthStatus = "denied"
	AuthAuthorized    AuthStatus = "authorized"
	AuthRestricted    AuthStatus = "restricted"
)

// PermissionsStatus はカメラとマイクの許可状態の組
type PermissionsStatus struct {
	Camera AuthStatus `json:"camera"`
	Audio  AuthStatus `json:"audio"`
}

// DeviceHandle は物理デバイスへの参照。検出後は変更されない
type DeviceHandle struct {
	ID        string    // デバイスの一意識別子
	Name      string    // 表示名
	Path      string    // デバイスパス（例: /dev/video0）
	Position  Position  // カメラの位置（音声デバイスでは空）
	MediaType MediaType // メディア種別
}

// Point はプレビュー上の正規化座標 (0.0〜1.0)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PhotoSettings は1枚ごとの撮影設定
type PhotoSettings struct {
	FlashMode FlashMode
	Format    string // "jpeg"
}

// ConnectionSettings は動画出力コネクションの設定
type ConnectionSettings struct {
	Orientation   VideoOrientation
	Mirrored      bool
	Stabilization StabilizationMode
}

// SampleBuffer はプラットフォームから届く撮影結果のバッファ
type SampleBuffer struct {
	Data        []byte           // JPEGデータ
	Orientation ImageOrientation // ソース画像の向き
}

// Photo はデコード済みの撮影画像
type Photo struct {
	Image       image.Image
	Data        []byte
	Orientation ImageOrientation
	Position    Position
	CapturedAt  time.Time
}

// Status はコントローラーの確定済み状態のスナップショット
type Status struct {
	Running     bool             `json:"running"`
	Recording   bool             `json:"recording"`
	SetupResult SetupResult      `json:"setup_result"`
	Position    Position         `json:"position"`
	Device      string           `json:"device,omitempty"`
	FlashMode   FlashMode        `json:"flash_mode"`
	FocusMode   FocusMode        `json:"focus_mode"`
	OutputDir   string           `json:"output_dir"`
	Orientation VideoOrientation `json:"preview_orientation"`
	HasMovie    bool             `json:"movie_output"`
}

// ConfigurationCompletion は設定系操作の完了コールバック
type ConfigurationCompletion func(err error)

// PhotoCompletion は撮影完了コールバック
type PhotoCompletion func(photo *Photo, err error)

// AccessCompletion は許可要求の完了コールバック
type AccessCompletion func(granted bool)
