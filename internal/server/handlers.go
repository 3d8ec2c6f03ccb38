package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
	"quickcamera/internal/config"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Backend string `json:"backend"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Camera    camera.Status `json:"camera"`
	Server    ServerInfo    `json:"server"`
	Clients   int           `json:"event_clients"`
	Timestamp time.Time     `json:"timestamp"`
}

// AccessResponse はアクセス要求のレスポンス
type AccessResponse struct {
	Media   camera.MediaType `json:"media"`
	Granted bool             `json:"granted"`
}

// FocusRequest はフォーカス位置の指定
type FocusRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FlashRequest はフラッシュ設定の変更要求
type FlashRequest struct {
	Mode string `json:"mode"`
}

// OrientationRequest は端末の向きの通知
type OrientationRequest struct {
	Orientation string `json:"orientation"`
}

// OrientationResponse はプレビューの向き
type OrientationResponse struct {
	PreviewOrientation camera.VideoOrientation `json:"preview_orientation"`
}

// CameraHandler はカメラ制御APIを実装する
type CameraHandler struct {
	config     *config.Config
	controller *camera.Controller
	events     *EventHub
	logger     hclog.Logger
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *CameraHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *CameraHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Camera: h.controller.Status(),
		Server: ServerInfo{
			Host:    h.config.Server.Host,
			Port:    h.config.Server.Port,
			Backend: h.config.Camera.Backend,
		},
		Clients:   h.events.ClientCount(),
		Timestamp: time.Now(),
	})
}

// GetPermissions はアクセス許可状態の取得
func (h *CameraHandler) GetPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Permissions())
}

// RequestAccess は映像または音声へのアクセスを要求する
func (h *CameraHandler) RequestAccess(c *gin.Context) {
	media := camera.MediaType(c.Param("media"))

	var request func(camera.AccessCompletion)
	switch media {
	case camera.MediaTypeVideo:
		request = h.controller.RequestVideoAccess
	case camera.MediaTypeAudio:
		request = h.controller.RequestAudioAccess
	default:
		badRequest(c, fmt.Sprintf("不明なメディア種別: %s", media))
		return
	}

	grantedCh := make(chan bool, 1)
	request(func(granted bool) { grantedCh <- granted })

	select {
	case granted := <-grantedCh:
		c.JSON(http.StatusOK, AccessResponse{Media: media, Granted: granted})
	case <-c.Request.Context().Done():
		h.writeError(c, c.Request.Context().Err())
	}
}

// ConfigureSession はセッションを構成して開始する。
// audio=1 で音声入力、video=1 で動画出力も構成する
func (h *CameraHandler) ConfigureSession(c *gin.Context) {
	ctx := c.Request.Context()

	err := await(ctx, func(done camera.ConfigurationCompletion) {
		h.controller.Configure(context.WithoutCancel(ctx), done)
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if c.Query("audio") == "1" {
		err := await(ctx, func(done camera.ConfigurationCompletion) {
			h.controller.ConfigureAudioInput(context.WithoutCancel(ctx), done)
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
	}

	if c.Query("video") == "1" {
		if err := await(ctx, h.controller.ConfigureVideoOutput); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, h.controller.Status())
}

// StartSession は構成済みのセッションを再開する
func (h *CameraHandler) StartSession(c *gin.Context) {
	if h.controller.IsRunning() {
		h.writeError(c, camera.ErrCaptureSessionAlreadyRunning)
		return
	}
	if h.controller.SetupResult() != camera.SetupReadyToStart {
		h.writeError(c, fmt.Errorf("%w: セッションが構成されていません", camera.ErrInvalidOperation))
		return
	}

	h.controller.Start()
	c.JSON(http.StatusAccepted, h.controller.Status())
}

// StopSession はセッションを停止する
func (h *CameraHandler) StopSession(c *gin.Context) {
	if !h.controller.IsRunning() {
		h.writeError(c, camera.ErrCaptureSessionIsMissing)
		return
	}

	h.controller.Stop()
	c.JSON(http.StatusAccepted, h.controller.Status())
}

// SwitchCamera は前面・背面カメラを切り替える
func (h *CameraHandler) SwitchCamera(c *gin.Context) {
	errCh := make(chan error, 1)
	if err := h.controller.SwitchCamera(func(err error) { errCh <- err }); err != nil {
		h.writeError(c, err)
		return
	}

	select {
	case err := <-errCh:
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.controller.Status())
	case <-c.Request.Context().Done():
		h.writeError(c, c.Request.Context().Err())
	}
}

// FocusAt は指定位置にフォーカスを合わせる
func (h *CameraHandler) FocusAt(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("リクエストの解析に失敗: %v", err))
		return
	}
	if req.X < 0 || req.X > 1 || req.Y < 0 || req.Y > 1 {
		badRequest(c, "座標は0.0〜1.0で指定してください")
		return
	}
	if !h.controller.IsRunning() {
		h.writeError(c, camera.ErrCaptureSessionIsMissing)
		return
	}

	h.controller.FocusAt(camera.Point{X: req.X, Y: req.Y})
	c.Status(http.StatusAccepted)
}

// SetFlashMode はフラッシュ設定を変更する
func (h *CameraHandler) SetFlashMode(c *gin.Context) {
	var req FlashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("リクエストの解析に失敗: %v", err))
		return
	}

	mode, ok := camera.ParseFlashMode(req.Mode)
	if !ok {
		badRequest(c, fmt.Sprintf("無効なフラッシュモード: %q", req.Mode))
		return
	}

	h.controller.SetFlashMode(mode)
	c.JSON(http.StatusOK, FlashRequest{Mode: string(mode)})
}

// UpdateOrientation は端末の向きからプレビューの向きを更新する
func (h *CameraHandler) UpdateOrientation(c *gin.Context) {
	var req OrientationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("リクエストの解析に失敗: %v", err))
		return
	}

	o, ok := parseDeviceOrientation(req.Orientation)
	if !ok {
		badRequest(c, fmt.Sprintf("無効な向き: %q", req.Orientation))
		return
	}

	c.JSON(http.StatusOK, OrientationResponse{PreviewOrientation: h.controller.UpdateOrientation(o)})
}

// CapturePhoto は静止画を撮影してJPEGで返す。
// photo_timeout までに結果が届かなければ 504 を返す
func (h *CameraHandler) CapturePhoto(c *gin.Context) {
	type result struct {
		photo *camera.Photo
		err   error
	}
	resultCh := make(chan result, 1)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.Camera.PhotoTimeout)
	defer cancel()

	h.controller.CapturePhoto(camera.PhotoSettings{Format: "jpeg"}, func(photo *camera.Photo, err error) {
		resultCh <- result{photo: photo, err: err}
	})

	select {
	case r := <-resultCh:
		if r.err != nil {
			h.writeError(c, r.err)
			return
		}
		c.Header("X-Camera-Position", string(r.photo.Position))
		c.Header("X-Image-Orientation", string(r.photo.Orientation))
		c.Data(http.StatusOK, "image/jpeg", r.photo.Data)
	case <-ctx.Done():
		h.writeError(c, fmt.Errorf("撮影結果を待てませんでした: %w", ctx.Err()))
	}
}

// StartRecording は録画を開始する。既に開始済みなら 409 を返す
func (h *CameraHandler) StartRecording(c *gin.Context) {
	if err := h.controller.SetRecording(true); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"output_dir": h.controller.OutputDir()})
}

// StopRecording は録画を停止する。録画していなければ 409 を返す
func (h *CameraHandler) StopRecording(c *gin.Context) {
	if err := h.controller.SetRecording(false); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Events はコントローラーの通知をWebSocketで配信する
func (h *CameraHandler) Events(c *gin.Context) {
	h.events.ServeWS(c.Writer, c.Request)
}

// ヘルパー関数

// await は完了コールバックを待つ。ctx が先に終了した場合はそのエラーを返す
func await(ctx context.Context, start func(camera.ConfigurationCompletion)) error {
	errCh := make(chan error, 1)
	start(func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeError はエラーの種類に応じたステータスでエラーレスポンスを返す
func (h *CameraHandler) writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("リクエストの処理に失敗", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// classifyError はエラーをHTTPステータスとエラーコードに変換する
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, camera.ErrCaptureSessionIsMissing):
		return http.StatusConflict, "session_missing"
	case errors.Is(err, camera.ErrCaptureSessionAlreadyRunning):
		return http.StatusConflict, "session_already_running"
	case errors.Is(err, camera.ErrPhotoRequestSuperseded):
		return http.StatusConflict, "photo_superseded"
	case errors.Is(err, camera.ErrInvalidOperation):
		return http.StatusConflict, "invalid_operation"
	case errors.Is(err, camera.ErrNoCamerasAvailable):
		return http.StatusServiceUnavailable, "no_cameras_available"
	case errors.Is(err, camera.ErrInputsAreInvalid):
		return http.StatusServiceUnavailable, "inputs_invalid"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     "bad_request",
		Message:   message,
		Timestamp: time.Now(),
	})
}

// parseDeviceOrientation は文字列から端末の向きを得る
func parseDeviceOrientation(s string) (camera.DeviceOrientation, bool) {
	switch o := camera.DeviceOrientation(s); o {
	case camera.DeviceUnknown, camera.DevicePortrait, camera.DevicePortraitUpsideDown,
		camera.DeviceLandscapeLeft, camera.DeviceLandscapeRight, camera.DeviceFaceUp, camera.DeviceFaceDown:
		return o, true
	}
	return camera.DeviceUnknown, false
}
