// Package main はquickcameraサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/config"
	"quickcamera/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: $QUICKCAMERA_CONFIG)")
		mock       = flag.Bool("mock", false, "モックカメラを使用")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("quickcamera")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}

	// 設定を読み込む
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *mock {
		cfg.Camera.Backend = config.BackendMock
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "quickcamera",
		Level: cfg.LogLevel(),
	})
	if cfg.LogLevel() > hclog.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// サーバーを起動
	logger.Info("quickcamera サーバーを起動します", "addr", cfg.ServerAddress(), "backend", cfg.Camera.Backend)
	if err := server.Run(context.Background(), cfg, path, logger); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
