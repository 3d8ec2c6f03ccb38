package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
)

// イベント種別
const (
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
	EventPhotoTaken       = "photo_taken"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
	EventVideoProcessed   = "video_processed"
	EventRecordingFailed  = "recording_failed"
)

const (
	clientBufferSize = 16
	writeWait        = 5 * time.Second
)

// Event はWebSocketで配信するコントローラーの通知
type Event struct {
	ID          string                  `json:"id"`
	Type        string                  `json:"type"`
	Position    camera.Position         `json:"position,omitempty"`
	Orientation camera.ImageOrientation `json:"orientation,omitempty"`
	Path        string                  `json:"path,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// EventHub はcamera.Listenerを実装し、受け取った通知を接続中の全クライアントへ配信する
type EventHub struct {
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
}

type eventClient struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewEventHub は新しいEventHubを作成する
func NewEventHub(logger hclog.Logger) *EventHub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.Named("events"),
		clients: make(map[*eventClient]struct{}),
	}
}

// ServeWS はWebSocket接続を確立し、切断されるまでイベントを送信する
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket接続のアップグレードに失敗", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan Event, clientBufferSize)}
	if !h.register(client) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("WebSocket接続を確立しました", "remote", r.RemoteAddr)

	go h.writePump(client)

	// クライアントからのメッセージは読み捨て、切断の検知にのみ使う
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(client)
	h.logger.Debug("WebSocket接続を切断しました", "remote", r.RemoteAddr)
}

func (h *EventHub) writePump(client *eventClient) {
	defer client.conn.Close()

	for event := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteJSON(event); err != nil {
			h.logger.Warn("イベントの送信に失敗", "error", err)
			h.unregister(client)
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *EventHub) register(client *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *EventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast はイベントを全クライアントへ送る。送信が詰まっているクライアントは切断する
func (h *EventHub) Broadcast(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			h.logger.Warn("送信バッファが満杯のためクライアントを切断します")
			delete(h.clients, client)
			client.close()
		}
	}
}

// Close は全ての接続を閉じ、以降の接続を拒否する
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}

// camera.Listener の実装

var _ camera.Listener = (*EventHub)(nil)

func (h *EventHub) SessionDidStartRunning() {
	h.Broadcast(Event{Type: EventSessionStarted})
}

func (h *EventHub) SessionDidStopRunning() {
	h.Broadcast(Event{Type: EventSessionStopped})
}

func (h *EventHub) DidTakePhoto(photo *camera.Photo) {
	h.Broadcast(Event{Type: EventPhotoTaken, Position: photo.Position, Orientation: photo.Orientation})
}

func (h *EventHub) DidBeginRecordingVideo(position camera.Position) {
	h.Broadcast(Event{Type: EventRecordingStarted, Position: position})
}

func (h *EventHub) DidFinishRecordingVideo(position camera.Position) {
	h.Broadcast(Event{Type: EventRecordingStopped, Position: position})
}

func (h *EventHub) DidFinishProcessVideo(path string) {
	h.Broadcast(Event{Type: EventVideoProcessed, Path: path})
}

func (h *EventHub) DidFailToRecordVideo(err error) {
	h.Broadcast(Event{Type: EventRecordingFailed, Error: err.Error()})
}
