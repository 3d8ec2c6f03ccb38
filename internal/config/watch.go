package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// reloadDelay は連続した書き込みをまとめる待ち時間
const reloadDelay = 200 * time.Millisecond

// Watch は設定ファイルの変更を監視し、読み込みに成功するたびに onChange を呼ぶ。
// 読み込みに失敗した場合は現在の設定を維持する。ctx が終了すると監視を止める
func Watch(ctx context.Context, path string, logger hclog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("config")

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("設定ファイルのパス解決に失敗: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}

	// エディタはリネームで保存するため、ディレクトリを監視する
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("ディレクトリの監視に失敗: %w", err)
	}

	reload := func() {
		cfg, err := LoadFile(target)
		if err != nil {
			logger.Warn("設定の再読み込みに失敗。現在の設定を維持します", "path", target, "error", err)
			return
		}
		logger.Info("設定を再読み込みしました", "path", target)
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("ファイル監視でエラー", "error", err)
			}
		}
	}()

	return nil
}
