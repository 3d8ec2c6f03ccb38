package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
	"quickcamera/internal/config"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	events     *EventHub
	logger     hclog.Logger
}

// New は新しいServerインスタンスを作成する。events はコントローラーのリスナーとして登録済みであること
func New(cfg *config.Config, controller *camera.Controller, events *EventHub, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("server")

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config: cfg,
		engine: engine,
		events: events,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes(&CameraHandler{
		config:     cfg,
		controller: controller,
		events:     events,
		logger:     logger,
	})

	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(h *CameraHandler) {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.HealthCheck)

	api := s.engine.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/permissions", h.GetPermissions)
	api.POST("/permissions/:media", h.RequestAccess)

	session := api.Group("/session")
	session.POST("/configure", h.ConfigureSession)
	session.POST("/start", h.StartSession)
	session.POST("/stop", h.StopSession)
	session.POST("/switch", h.SwitchCamera)
	session.POST("/focus", h.FocusAt)
	session.PUT("/flash", h.SetFlashMode)
	session.PUT("/orientation", h.UpdateOrientation)

	api.POST("/photo", h.CapturePhoto)
	api.POST("/recording/start", h.StartRecording)
	api.POST("/recording/stop", h.StopRecording)

	// WebSocketでイベントを配信
	api.GET("/events", h.Events)
}

// Handler はHTTPハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// WebSocket接続は Shutdown の対象外なので先に閉じる
	s.events.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをhclogに記録するミドルウェア
func requestLogger(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("リクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
