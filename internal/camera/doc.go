// Package camera キャプチャセッションのライフサイクルを管理する
//
// # 責務
// - 前面・背面カメラの検出と位置の割り当て
// - セッションの構成・開始・停止、カメラの切り替え
// - 静止画撮影と動画録画、完了通知の転送
// - カメラ・マイクのアクセス許可の取得
// - 端末の向きからプレビュー・画像の向きへの変換
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラを1台ずつ切り替えながら撮影・録画したい
// - 撮影や録画の完了をリスナーで受け取りたい
//
// # 仕様
// - Controller: セッションを変更する操作を単一のワーカーキューで直列に実行する
// - 完了コールバックとリスナー通知はメインのDispatcherで実行する
// - Platform: キャプチャ基盤の抽象。V4L2Platform と MockPlatform を提供する
// - 構成の変更は必ず Begin/CommitConfiguration の組で囲む
// - 録画中はバックグラウンドタスクのトークンを保持し、Close はその解放を待つ
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 静止画の取得と録画に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - video・audioグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video,audio $USER
package camera
