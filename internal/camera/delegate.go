package camera

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"time"
)

// captureAdapter はプラットフォームの完了通知を受け取り、
// 呼び出し元のコールバックとリスナーへメインコンテキストで転送する
type captureAdapter struct {
	c *Controller
}

// takePendingPhoto は保留中の撮影要求を取り出して空にする
func (a *captureAdapter) takePendingPhoto() (PhotoCompletion, Position, Listener) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()

	completion := a.c.pendingPhoto
	a.c.pendingPhoto = nil
	return completion, a.c.position, a.c.listener
}

// OnPhotoReady は撮影バッファをデコードして通知する
func (a *captureAdapter) OnPhotoReady(buf *SampleBuffer) {
	completion, position, listener := a.takePendingPhoto()

	if buf == nil || len(buf.Data) == 0 {
		a.c.logger.Warn("撮影結果にバッファがありません")
		a.deliverPhoto(completion, nil, ErrUnknown)
		return
	}

	img, err := jpeg.Decode(bytes.NewReader(buf.Data))
	if err != nil {
		a.c.logger.Warn("撮影画像のデコードに失敗", "error", err)
		a.deliverPhoto(completion, nil, fmt.Errorf("%w: %v", ErrUnknown, err))
		return
	}

	photo := &Photo{
		Image:       img,
		Data:        buf.Data,
		Orientation: correctFrontOrientation(buf.Orientation, position),
		Position:    position,
		CapturedAt:  time.Now(),
	}

	a.c.main.Async(func() {
		if completion != nil {
			completion(photo, nil)
		}
		listener.DidTakePhoto(photo)
	})
}

// OnPhotoFailed はエラーをそのまま通知する
func (a *captureAdapter) OnPhotoFailed(err error) {
	completion, _, _ := a.takePendingPhoto()

	a.c.logger.Warn("撮影に失敗", "error", err)
	a.deliverPhoto(completion, nil, err)
}

func (a *captureAdapter) deliverPhoto(completion PhotoCompletion, photo *Photo, err error) {
	if completion == nil {
		return
	}
	a.c.main.Async(func() { completion(photo, err) })
}

// OnRecordingFinished は録画ファイルの完成を通知する
func (a *captureAdapter) OnRecordingFinished(path string) {
	listener := a.finishRecording(path)

	a.c.logger.Info("録画ファイルを書き出しました", "path", path)
	a.c.main.Async(func() { listener.DidFinishProcessVideo(path) })
}

// OnRecordingFailed は録画の失敗を通知する
func (a *captureAdapter) OnRecordingFailed(path string, err error) {
	listener := a.finishRecording(path)

	a.c.logger.Error("録画に失敗", "path", path, "error", err)
	a.c.main.Async(func() { listener.DidFailToRecordVideo(err) })
}

// finishRecording はトークンを解放し、停止操作を経ずに終わった録画の状態を戻す
func (a *captureAdapter) finishRecording(path string) Listener {
	a.c.mu.Lock()
	token := a.c.recordingTokens[path]
	delete(a.c.recordingTokens, path)
	wasRecording := a.c.isRecording && a.c.recordingPath == path
	if wasRecording {
		a.c.isRecording = false
		a.c.recordingRequested = false
	}
	listener := a.c.listener
	a.c.mu.Unlock()

	if token != nil {
		token.Release()
	}
	if wasRecording {
		a.c.worker.Async(a.c.disableFlashIfNeeded)
	}
	return listener
}
