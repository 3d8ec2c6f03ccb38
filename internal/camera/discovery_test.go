package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// fakeV4L2 は v4l2-ctl の出力をデバイスごとに返す
type fakeV4L2 struct {
	formats map[string]string
	cards   map[string]string
}

func (f *fakeV4L2) run(_ context.Context, name string, args ...string) ([]byte, error) {
	if name != "v4l2-ctl" || len(args) < 3 {
		return nil, errors.New("unexpected command")
	}
	device := filepath.Base(args[1])

	switch args[2] {
	case "--list-formats-ext":
		return []byte(f.formats[device]), nil
	case "--info":
		card, ok := f.cards[device]
		if !ok {
			return nil, errors.New("no info")
		}
		return []byte("Driver Info:\n\tDriver name      : uvcvideo\n\tCard type        : " + card + "\n"), nil
	}
	return nil, errors.New("unexpected args")
}

// newTestDiscovery は一時ディレクトリにデバイスファイルを作成する
func newTestDiscovery(t *testing.T, fake *fakeV4L2, positions map[string]Position, names ...string) (*LinuxDiscovery, string) {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("failed to create device file: %v", err)
		}
	}

	d := NewLinuxDiscovery(positions, hclog.NewNullLogger())
	d.pattern = filepath.Join(dir, "video*")
	d.run = fake.run
	return d, dir
}

func TestLinuxDiscovery_AssignsPositionsInOrder(t *testing.T) {
	fake := &fakeV4L2{
		formats: map[string]string{"video0": "'YUYV'", "video1": "", "video2": "'MJPG'", "video10": "'YUYV'"},
		cards:   map[string]string{"video0": "Integrated Camera", "video2": "USB Camera", "video10": "Extra Camera"},
	}
	d, dir := newTestDiscovery(t, fake, nil, "video0", "video1", "video2", "video10")

	devices, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}

	back, front := devices[0], devices[1]
	if back.Position != PositionBack || back.Path != filepath.Join(dir, "video0") {
		t.Errorf("Expected video0 as back camera, got %+v", back)
	}
	if front.Position != PositionFront || front.Path != filepath.Join(dir, "video2") {
		t.Errorf("Expected video2 as front camera, got %+v", front)
	}
	if back.ID != "v4l2-0" || back.Name != "Integrated Camera" {
		t.Errorf("Unexpected back handle: %+v", back)
	}
	if back.MediaType != MediaTypeVideo {
		t.Errorf("Expected video media type, got %s", back.MediaType)
	}
}

func TestLinuxDiscovery_ConfiguredPositions(t *testing.T) {
	fake := &fakeV4L2{
		formats: map[string]string{"video0": "YUYV", "video2": "YUYV"},
		cards:   map[string]string{"video0": "Cam A", "video2": "Cam B"},
	}
	dir := t.TempDir()
	positions := map[string]Position{filepath.Join(dir, "video2"): PositionBack}

	for _, name := range []string{"video0", "video2"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("failed to create device file: %v", err)
		}
	}
	d := NewLinuxDiscovery(positions, hclog.NewNullLogger())
	d.pattern = filepath.Join(dir, "video*")
	d.run = fake.run

	devices, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	// 設定がある場合は設定されたデバイスのみ使う
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if devices[0].Name != "Cam B" || devices[0].Position != PositionBack {
		t.Errorf("Expected Cam B as back camera, got %+v", devices[0])
	}
}

func TestLinuxDiscovery_SkipsDuplicateNodes(t *testing.T) {
	fake := &fakeV4L2{
		formats: map[string]string{"video0": "YUYV", "video1": "YUYV"},
		cards:   map[string]string{"video0": "Same Camera", "video1": "Same Camera"},
	}
	d, _ := newTestDiscovery(t, fake, nil, "video0", "video1")

	devices, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if devices[0].Position != PositionBack {
		t.Errorf("Expected back position, got %s", devices[0].Position)
	}
}

func TestLinuxDiscovery_NoDevices(t *testing.T) {
	d, _ := newTestDiscovery(t, &fakeV4L2{}, nil)

	devices, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Expected 0 devices, got %d", len(devices))
	}
}

func TestLinuxDiscovery_FallbackName(t *testing.T) {
	fake := &fakeV4L2{formats: map[string]string{"video4": "MJPG"}}
	d, _ := newTestDiscovery(t, fake, nil, "video4")

	devices, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if !strings.HasSuffix(devices[0].Name, "4") {
		t.Errorf("Expected fallback name with device number, got %s", devices[0].Name)
	}
}

func TestLinuxDiscovery_CanceledContext(t *testing.T) {
	fake := &fakeV4L2{formats: map[string]string{"video0": "YUYV"}}
	d, _ := newTestDiscovery(t, fake, nil, "video0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Discover(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		device string
		want   int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/camera", 0},
		{"/dev/video", 0},
	}

	for _, tt := range tests {
		if got := extractDeviceNumber(tt.device); got != tt.want {
			t.Errorf("extractDeviceNumber(%s) = %d, want %d", tt.device, got, tt.want)
		}
	}
}
