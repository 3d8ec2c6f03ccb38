package camera

import "errors"

// キャプチャセッションのエラー種別
var (
	ErrCaptureSessionAlreadyRunning = errors.New("キャプチャセッションは既に動作中です")
	ErrCaptureSessionIsMissing      = errors.New("キャプチャセッションが動作していません")
	ErrInputsAreInvalid             = errors.New("入力デバイスを追加できません")
	ErrInvalidOperation             = errors.New("無効な操作です")
	ErrNoCamerasAvailable           = errors.New("利用可能なカメラがありません")
	ErrNoSampleBuffer               = errors.New("サンプルバッファがありません")
	ErrUnknown                      = errors.New("不明なエラー")

	// ErrPhotoRequestSuperseded は後続の撮影要求で置き換えられた要求に返される
	ErrPhotoRequestSuperseded = errors.New("撮影要求が後続の要求で置き換えられました")
)
