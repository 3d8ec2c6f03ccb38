// Package server は、カメラ制御のHTTP APIとイベント配信を提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// WebSocket接続の管理を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - セッション操作・撮影・録画のリクエスト処理
//   - コントローラーの通知をWebSocketで配信
//   - エラーのHTTPステータスへの変換
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - 非同期操作は完了コールバックを待ってから応答する
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
