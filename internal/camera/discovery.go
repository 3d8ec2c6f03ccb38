package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// commandRunner は外部コマンドを実行して標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

var deviceNumberPattern = regexp.MustCompile(`video(\d+)$`)

// LinuxDiscovery はV4L2デバイスを検出して前面・背面に割り当てる
type LinuxDiscovery struct {
	pattern   string
	positions map[string]Position // デバイスパス → 位置
	run       commandRunner
	logger    hclog.Logger
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する。
// positions が空の場合、最初のデバイスを背面、2番目を前面とする
func NewLinuxDiscovery(positions map[string]Position, logger hclog.Logger) *LinuxDiscovery {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LinuxDiscovery{
		pattern:   "/dev/video*",
		positions: positions,
		run:       execCommand,
		logger:    logger.Named("discovery"),
	}
}

// Discover は映像デバイスを列挙し、位置を割り当てたハンドルを返す
func (d *LinuxDiscovery) Discover(ctx context.Context) ([]DeviceHandle, error) {
	paths, err := d.scanDevices(ctx)
	if err != nil {
		return nil, err
	}

	handles := make([]DeviceHandle, 0, 2)
	assigned := make(map[Position]bool)

	// 設定で位置が指定されたデバイスを優先する
	for _, path := range paths {
		position, ok := d.positions[path]
		if !ok || assigned[position] {
			continue
		}
		assigned[position] = true
		handles = append(handles, d.handleFor(ctx, path, position))
	}
	if len(d.positions) > 0 {
		return handles, nil
	}

	for _, path := range paths {
		var position Position
		switch {
		case !assigned[PositionBack]:
			position = PositionBack
		case !assigned[PositionFront]:
			position = PositionFront
		default:
			d.logger.Debug("3台目以降のカメラは使用しません", "device", path)
			continue
		}
		assigned[position] = true
		handles = append(handles, d.handleFor(ctx, path, position))
	}

	return handles, nil
}

func (d *LinuxDiscovery) handleFor(ctx context.Context, path string, position Position) DeviceHandle {
	return DeviceHandle{
		ID:        fmt.Sprintf("v4l2-%d", extractDeviceNumber(path)),
		Name:      d.deviceName(ctx, path),
		Path:      path,
		Position:  position,
		MediaType: MediaTypeVideo,
	}
}

// scanDevices は /dev/video* からカラー映像を出力するデバイスを番号順に返す
func (d *LinuxDiscovery) scanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seenNames := make(map[string]bool)
	for _, path := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isDeviceReadable(path) || !d.supportsColor(ctx, path) {
			continue
		}

		// 同じ物理カメラの複数ノードは最小番号のみ採用
		if name := d.v4l2Name(ctx, path); name != "" {
			if seenNames[name] {
				continue
			}
			seenNames[name] = true
		}
		devices = append(devices, path)
	}

	return devices, nil
}

// supportsColor はYUYVまたはMJPGを出力できるかを判定する
func (d *LinuxDiscovery) supportsColor(ctx context.Context, path string) bool {
	output, err := d.run(ctx, "v4l2-ctl", "--device", path, "--list-formats-ext")
	if err != nil {
		return false
	}

	formats := string(output)
	return strings.Contains(formats, "YUYV") || strings.Contains(formats, "MJPG")
}

// deviceName は表示名を返す。取得できなければ番号から生成する
func (d *LinuxDiscovery) deviceName(ctx context.Context, path string) string {
	if name := d.v4l2Name(ctx, path); name != "" {
		return name
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(path))
}

// v4l2Name は v4l2-ctl の "Card type" からカメラ名を取得する
func (d *LinuxDiscovery) v4l2Name(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := d.run(ctx, "v4l2-ctl", "--device", path, "--info")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// isDeviceReadable はデバイスファイルを読み取りで開けるか確認する
func isDeviceReadable(path string) bool {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
