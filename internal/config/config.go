package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"quickcamera/internal/camera"
)

// カメラバックエンドの種類
const (
	BackendV4L2 = "v4l2"
	BackendMock = "mock"
)

// EnvConfigPath は設定ファイルのパスを指定する環境変数
const EnvConfigPath = "QUICKCAMERA_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 終了時に録画の完了を待つ時間
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string         `yaml:"backend"` // v4l2 または mock
	Devices []CameraDevice `yaml:"devices"` // 位置の割り当て。空なら検出順

	// キャプチャ設定
	Width  int `yaml:"width"`  // 画像幅
	Height int `yaml:"height"` // 画像高さ
	FPS    int `yaml:"fps"`    // 録画のフレームレート

	OutputDir string `yaml:"output_dir"` // 録画の出力先。空なら一時ディレクトリ
	FlashMode string `yaml:"flash_mode"` // off / on / auto
	QueueSize int    `yaml:"queue_size"` // ワーカーキューのバッファ長

	// 完了前に置き換えられた撮影要求へエラーを通知するか
	CancelSupersededPhoto bool `yaml:"cancel_superseded_photo"`
	// 撮影APIが結果を待つ上限
	PhotoTimeout time.Duration `yaml:"photo_timeout"`
}

// CameraDevice は個別カメラの位置設定
type CameraDevice struct {
	Device   string `yaml:"device"`   // デバイスパス (例: /dev/video0)
	Position string `yaml:"position"` // front または back
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level"` // trace / debug / info / warn / error
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Backend:   BackendV4L2,
			Devices:   []CameraDevice{},
			Width:     1280,
			Height:    720,
			FPS:       30,
			OutputDir: os.TempDir(),
			FlashMode: string(camera.FlashOff),
			QueueSize: 64,

			CancelSupersededPhoto: true,
			PhotoTimeout:          10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は環境変数 QUICKCAMERA_CONFIG が指すファイルと環境変数から設定を読み込む
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile は設定ファイルを読み込み、環境変数で上書きする。path が空ならデフォルト値を使う
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.OutputDir = getEnvOrDefault("OUTPUT_DIR", c.Camera.OutputDir)
	c.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", c.Camera.Backend)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	switch c.Camera.Backend {
	case BackendV4L2, BackendMock:
	default:
		return fmt.Errorf("無効なカメラバックエンド: %q", c.Camera.Backend)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 {
		return errors.New("解像度とフレームレートは0以上である必要があります")
	}
	if c.Camera.QueueSize < 0 {
		return fmt.Errorf("無効なキューサイズ: %d", c.Camera.QueueSize)
	}
	if c.Camera.PhotoTimeout <= 0 {
		return fmt.Errorf("無効な撮影タイムアウト: %s", c.Camera.PhotoTimeout)
	}
	if _, ok := camera.ParseFlashMode(c.Camera.FlashMode); !ok {
		return fmt.Errorf("無効なフラッシュモード: %q", c.Camera.FlashMode)
	}

	seen := make(map[string]bool)
	for i, d := range c.Camera.Devices {
		if d.Device == "" {
			return fmt.Errorf("カメラ %d のデバイスパスが空です", i)
		}
		if d.Position != string(camera.PositionFront) && d.Position != string(camera.PositionBack) {
			return fmt.Errorf("カメラ %s の位置が無効です: %q", d.Device, d.Position)
		}
		if seen[d.Position] {
			return fmt.Errorf("位置 %s が重複しています", d.Position)
		}
		seen[d.Position] = true
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("無効なログレベル: %q", c.Log.Level)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Positions はデバイスパスから位置への対応を返す
func (c *Config) Positions() map[string]camera.Position {
	positions := make(map[string]camera.Position, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		positions[d.Device] = camera.Position(d.Position)
	}
	return positions
}

// FlashMode はフラッシュ設定を返す
func (c *Config) FlashMode() camera.FlashMode {
	mode, _ := camera.ParseFlashMode(c.Camera.FlashMode)
	return mode
}

// LogLevel はログレベルを返す
func (c *Config) LogLevel() hclog.Level {
	return hclog.LevelFromString(c.Log.Level)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
