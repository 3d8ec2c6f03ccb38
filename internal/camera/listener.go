package camera

// Listener はコントローラーからの通知を受け取る。
// 通知はすべてメインコンテキスト（Dispatcher）上で呼ばれる
type Listener interface {
	SessionDidStartRunning()
	SessionDidStopRunning()
	DidTakePhoto(photo *Photo)
	DidBeginRecordingVideo(position Position)
	DidFinishRecordingVideo(position Position)
	DidFinishProcessVideo(path string)
	DidFailToRecordVideo(err error)
}

// BaseListener は何もしないListener実装。埋め込んで必要なメソッドだけ上書きする
type BaseListener struct{}

func (BaseListener) SessionDidStartRunning() {}
func (BaseListener) SessionDidStopRunning() {}
func (BaseListener) DidTakePhoto(*Photo) {}
func (BaseListener) DidBeginRecordingVideo(Position) {}
func (BaseListener) DidFinishRecordingVideo(Position) {}
func (BaseListener) DidFinishProcessVideo(string) {}
func (BaseListener) DidFailToRecordVideo(error) {}
