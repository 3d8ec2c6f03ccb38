package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"quickcamera/internal/camera"
)

// clearEnv はテスト中の環境変数を空にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SERVER_HOST", "PORT", "OUTPUT_DIR", "CAMERA_BACKEND", "LOG_LEVEL", EnvConfigPath} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "quickcamera.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}
	return path
}

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("デフォルトポートが違います: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}

	// カメラ設定の検証
	if cfg.Camera.Backend != BackendV4L2 {
		t.Errorf("デフォルトバックエンドが違います: %s", cfg.Camera.Backend)
	}
	if cfg.Camera.OutputDir != os.TempDir() {
		t.Errorf("出力先は一時ディレクトリであるべきです: %s", cfg.Camera.OutputDir)
	}
	if cfg.FlashMode() != camera.FlashOff {
		t.Errorf("フラッシュはオフであるべきです: %s", cfg.FlashMode())
	}
	if len(cfg.Positions()) != 0 {
		t.Error("位置の割り当ては空であるべきです")
	}
	if !cfg.Camera.CancelSupersededPhoto {
		t.Error("置き換えられた撮影要求にはエラーを通知するべきです")
	}
	if cfg.Camera.PhotoTimeout <= 0 {
		t.Error("撮影タイムアウトが設定されていません")
	}
	if cfg.LogLevel() != hclog.Info {
		t.Errorf("ログレベルはinfoであるべきです: %s", cfg.LogLevel())
	}
}

// TestLoadFile は設定ファイルの読み込みをテストする
func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, t.TempDir(), `
server:
  port: 9000
  shutdown_timeout: 3s
camera:
  backend: mock
  flash_mode: on
  cancel_superseded_photo: false
  photo_timeout: 4s
  devices:
    - device: /dev/video2
      position: front
    - device: /dev/video0
      position: back
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("ポートが違います: %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("終了タイムアウトが違います: %s", cfg.Server.ShutdownTimeout)
	}
	// ファイルで指定していない値はデフォルトのまま
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("ホストが違います: %s", cfg.Server.Host)
	}
	if cfg.Camera.Backend != BackendMock {
		t.Errorf("バックエンドが違います: %s", cfg.Camera.Backend)
	}
	if cfg.FlashMode() != camera.FlashOn {
		t.Errorf("フラッシュモードが違います: %s", cfg.FlashMode())
	}
	if cfg.Camera.CancelSupersededPhoto {
		t.Error("cancel_superseded_photo が読み込まれていません")
	}
	if cfg.Camera.PhotoTimeout != 4*time.Second {
		t.Errorf("撮影タイムアウトが違います: %s", cfg.Camera.PhotoTimeout)
	}
	if cfg.LogLevel() != hclog.Debug {
		t.Errorf("ログレベルが違います: %s", cfg.LogLevel())
	}

	positions := cfg.Positions()
	if positions["/dev/video2"] != camera.PositionFront || positions["/dev/video0"] != camera.PositionBack {
		t.Errorf("位置の割り当てが違います: %v", positions)
	}
}

// TestLoadFileErrors は読み込みエラーをテストする
func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("存在しないファイルでエラーが期待されました")
	}

	path := writeConfig(t, dir, "server: [unclosed")
	if _, err := LoadFile(path); err == nil {
		t.Error("不正なYAMLでエラーが期待されました")
	}

	path = writeConfig(t, dir, "camera:\n  backend: gstreamer\n")
	if _, err := LoadFile(path); err == nil {
		t.Error("無効なバックエンドでエラーが期待されました")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "無効なバックエンド",
			modify:    func(c *Config) { c.Camera.Backend = "avfoundation" },
			expectErr: true,
		},
		{
			name:      "無効なフラッシュモード",
			modify:    func(c *Config) { c.Camera.FlashMode = "torch" },
			expectErr: true,
		},
		{
			name:      "負の解像度",
			modify:    func(c *Config) { c.Camera.Width = -1 },
			expectErr: true,
		},
		{
			name:      "撮影タイムアウトなし",
			modify:    func(c *Config) { c.Camera.PhotoTimeout = 0 },
			expectErr: true,
		},
		{
			name:      "無効なログレベル",
			modify:    func(c *Config) { c.Log.Level = "verbose" },
			expectErr: true,
		},
		{
			name: "カメラデバイスパスなし",
			modify: func(c *Config) {
				c.Camera.Devices = []CameraDevice{{Device: "", Position: "back"}}
			},
			expectErr: true,
		},
		{
			name: "無効な位置",
			modify: func(c *Config) {
				c.Camera.Devices = []CameraDevice{{Device: "/dev/video0", Position: "side"}}
			},
			expectErr: true,
		},
		{
			name: "位置の重複",
			modify: func(c *Config) {
				c.Camera.Devices = []CameraDevice{
					{Device: "/dev/video0", Position: "back"},
					{Device: "/dev/video2", Position: "back"},
				}
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数による上書きをテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9000\ncamera:\n  backend: v4l2\n")

	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("OUTPUT_DIR", dir)
	t.Setenv("CAMERA_BACKEND", "mock")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("ホストが環境変数で上書きされていません: %s", cfg.Server.Host)
	}
	// 環境変数はファイルより優先される
	if cfg.Server.Port != 9999 {
		t.Errorf("ポートが環境変数で上書きされていません: %d", cfg.Server.Port)
	}
	if cfg.Camera.OutputDir != dir {
		t.Errorf("出力先が環境変数で上書きされていません: %s", cfg.Camera.OutputDir)
	}
	if cfg.Camera.Backend != BackendMock {
		t.Errorf("バックエンドが環境変数で上書きされていません: %s", cfg.Camera.Backend)
	}
	if cfg.LogLevel() != hclog.Warn {
		t.Errorf("ログレベルが環境変数で上書きされていません: %s", cfg.LogLevel())
	}
}

// TestWatch は設定ファイルの変更検知をテストする
func TestWatch(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := writeConfig(t, dir, "camera:\n  flash_mode: off\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	if err := Watch(ctx, path, hclog.NewNullLogger(), func(c *Config) { changed <- c }); err != nil {
		t.Fatalf("監視の開始に失敗しました: %v", err)
	}

	// 不正な内容は無視される
	writeConfig(t, dir, "camera:\n  flash_mode: torch\n")
	select {
	case cfg := <-changed:
		t.Fatalf("不正な設定が通知されました: %+v", cfg.Camera)
	case <-time.After(2 * reloadDelay):
	}

	writeConfig(t, dir, "camera:\n  flash_mode: auto\n  output_dir: "+dir+"\n")
	select {
	case cfg := <-changed:
		if cfg.FlashMode() != camera.FlashAuto {
			t.Errorf("フラッシュモードが反映されていません: %s", cfg.FlashMode())
		}
		if cfg.Camera.OutputDir != dir {
			t.Errorf("出力先が反映されていません: %s", cfg.Camera.OutputDir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("設定の変更が通知されませんでした")
	}
}

// TestWatchMissingDirectory は存在しないディレクトリの監視をテストする
func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/quickcamera.yaml", nil, func(*Config) {})
	if err == nil {
		t.Error("存在しないディレクトリでエラーが期待されました")
	}
}
