package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
	"quickcamera/internal/config"
)

func TestNewPlatform(t *testing.T) {
	cfg := config.Default()

	cfg.Camera.Backend = config.BackendMock
	if _, ok := NewPlatform(cfg, nil).(*camera.MockPlatform); !ok {
		t.Error("Expected MockPlatform for mock backend")
	}

	cfg.Camera.Backend = config.BackendV4L2
	if _, ok := NewPlatform(cfg, nil).(*camera.V4L2Platform); !ok {
		t.Error("Expected V4L2Platform for v4l2 backend")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quickcamera.yaml")
	if err := os.WriteFile(path, []byte("camera:\n  backend: mock\n"), 0644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Camera.Backend = config.BackendMock
	cfg.Camera.OutputDir = dir

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, path, hclog.NewNullLogger())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Runがエラーを返しました: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Runの停止がタイムアウトしました")
	}
}
