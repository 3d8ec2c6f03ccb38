package main

import (
	"context"
	"log"
	"os"

	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/config"
	"quickcamera/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "quickcamera",
		Level: cfg.LogLevel(),
	})

	// サーバーを起動
	if err := server.Run(context.Background(), cfg, os.Getenv(config.EnvConfigPath), logger); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
