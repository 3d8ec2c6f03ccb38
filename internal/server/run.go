package server

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
	"quickcamera/internal/config"
)

// NewPlatform は設定に応じたキャプチャ基盤を作成する
func NewPlatform(cfg *config.Config, logger hclog.Logger) camera.Platform {
	if cfg.Camera.Backend == config.BackendMock {
		platform := camera.NewMockCameraPair()
		platform.SetAutoDeliverPhoto(true, camera.ImageUp)
		platform.SetAudioDevice(&camera.DeviceHandle{
			ID:        "mock-mic",
			Name:      "テストマイク",
			Path:      "default",
			MediaType: camera.MediaTypeAudio,
		})
		return platform
	}

	platform := camera.NewV4L2Platform(camera.V4L2Options{
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		FPS:       cfg.Camera.FPS,
		Positions: cfg.Positions(),
		Logger:    logger,
	})
	if err := platform.ValidateTools(context.Background()); err != nil && logger != nil {
		logger.Warn("外部ツールを確認できません", "error", err)
	}
	return platform
}

// Run はコントローラーとHTTPサーバーを起動し、終了まで待つ。
// configPath が空でなければ設定ファイルの変更をフラッシュモードと出力先に反映する
func Run(ctx context.Context, cfg *config.Config, configPath string, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	events := NewEventHub(logger)
	controller, err := camera.NewController(camera.Options{
		Platform:              NewPlatform(cfg, logger),
		Listener:              events,
		Logger:                logger,
		OutputDir:             cfg.Camera.OutputDir,
		FlashMode:             cfg.FlashMode(),
		QueueSize:             cfg.Camera.QueueSize,
		CancelSupersededPhoto: cfg.Camera.CancelSupersededPhoto,
	})
	if err != nil {
		return fmt.Errorf("コントローラーの作成に失敗: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	if configPath != "" {
		err := config.Watch(watchCtx, configPath, logger, func(updated *config.Config) {
			controller.SetFlashMode(updated.FlashMode())
			controller.SetOutputDir(updated.Camera.OutputDir)
		})
		if err != nil {
			logger.Warn("設定ファイルの監視を開始できません", "path", configPath, "error", err)
		}
	}

	logger.Info("カメラコントローラーを作成しました", "backend", cfg.Camera.Backend, "output_dir", cfg.Camera.OutputDir)

	srv := New(cfg, controller, events, logger)
	serveErr := srv.Start(ctx)

	// 録画中であれば書き出しの完了を待つ
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := controller.Close(closeCtx); err != nil {
		logger.Warn("コントローラーの終了処理に失敗", "error", err)
	}

	return serveErr
}
