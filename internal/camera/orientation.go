package camera

// DeviceOrientation は端末本体の向き
type DeviceOrientation string

const (
	DeviceUnknown            DeviceOrientation = "unknown"
	DevicePortrait           DeviceOrientation = "portrait"
	DevicePortraitUpsideDown DeviceOrientation = "portrait_upside_down"
	DeviceLandscapeLeft      DeviceOrientation = "landscape_left"
	DeviceLandscapeRight     DeviceOrientation = "landscape_right"
	DeviceFaceUp             DeviceOrientation = "face_up"
	DeviceFaceDown           DeviceOrientation = "face_down"
)

// VideoOrientation はプレビュー・動画コネクションの向き
type VideoOrientation string

const (
	VideoPortrait       VideoOrientation = "portrait"
	VideoLandscapeLeft  VideoOrientation = "landscape_left"
	VideoLandscapeRight VideoOrientation = "landscape_right"
)

// ImageOrientation は撮影画像に付与される向き
type ImageOrientation string

const (
	ImageUp            ImageOrientation = "up"
	ImageDown          ImageOrientation = "down"
	ImageLeft          ImageOrientation = "left"
	ImageRight         ImageOrientation = "right"
	ImageUpMirrored    ImageOrientation = "up_mirrored"
	ImageDownMirrored  ImageOrientation = "down_mirrored"
	ImageLeftMirrored  ImageOrientation = "left_mirrored"
	ImageRightMirrored ImageOrientation = "right_mirrored"
)

// PreviewOrientation は端末の向きからプレビューコネクションの向きを求める。
// センサーの取り付け向きを補正するため左右の横向きは入れ替わる。
func PreviewOrientation(o DeviceOrientation) VideoOrientation {
	switch o {
	case DeviceLandscapeRight:
		return VideoLandscapeLeft
	case DeviceLandscapeLeft:
		return VideoLandscapeRight
	default:
		return VideoPortrait
	}
}

// correctFrontOrientation は前面カメラで撮影された画像の向きを補正する
func correctFrontOrientation(o ImageOrientation, pos Position) ImageOrientation {
	if pos == PositionFront && o == ImageRight {
		return ImageLeftMirrored
	}
	return o
}
