package camera

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commandRecorder は実行されたコマンドを記録し、固定の結果を返す
type commandRecorder struct {
	mu     sync.Mutex
	calls  [][]string
	output []byte
	err    error
}

func (r *commandRecorder) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func (r *commandRecorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// delegateRecorder は撮影結果を受け取る
type delegateRecorder struct {
	ready  chan *SampleBuffer
	failed chan error
}

func newDelegateRecorder() *delegateRecorder {
	return &delegateRecorder{ready: make(chan *SampleBuffer, 1), failed: make(chan error, 1)}
}

func (d *delegateRecorder) OnPhotoReady(buf *SampleBuffer)        { d.ready <- buf }
func (d *delegateRecorder) OnPhotoFailed(err error)               { d.failed <- err }
func (d *delegateRecorder) OnRecordingFinished(string)            {}
func (d *delegateRecorder) OnRecordingFailed(_ string, err error) { d.failed <- err }

func newTestV4L2Platform(t *testing.T, rec *commandRecorder) (*V4L2Platform, DeviceHandle) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	p := NewV4L2Platform(V4L2Options{Logger: hclog.NewNullLogger()})
	p.run = rec.run
	return p, DeviceHandle{ID: "v4l2-0", Path: path, Position: PositionBack, MediaType: MediaTypeVideo}
}

func TestNewV4L2Platform_Defaults(t *testing.T) {
	p := NewV4L2Platform(V4L2Options{})
	assert.Equal(t, 1280, p.width)
	assert.Equal(t, 720, p.height)
	assert.Equal(t, 30, p.fps)

	p = NewV4L2Platform(V4L2Options{Width: 640, Height: 480, FPS: 15})
	assert.Equal(t, 640, p.width)
	assert.Equal(t, 15, p.fps)
}

func TestV4L2Platform_DeviceConfiguration(t *testing.T) {
	rec := &commandRecorder{}
	p, device := newTestV4L2Platform(t, rec)

	cfg, err := p.LockForConfiguration(device)
	require.NoError(t, err)

	assert.True(t, cfg.SetFocusMode(FocusAuto))
	assert.True(t, cfg.SetExposureMode(ExposureContinuousAuto))
	assert.Equal(t, ExposureContinuousAuto, cfg.ExposureMode())
	assert.False(t, cfg.SetFocusPointOfInterest(Point{X: 0.5, Y: 0.5}))
	assert.False(t, cfg.HasTorch())
	assert.ErrorIs(t, cfg.SetTorch(true), ErrInvalidOperation)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"v4l2-ctl", "--device", device.Path, "--set-ctrl", "focus_automatic_continuous=1"}, calls[0])
	assert.Equal(t, []string{"v4l2-ctl", "--device", device.Path, "--set-ctrl", "auto_exposure=3"}, calls[1])

	cfg.Unlock()
	cfg.Unlock()

	// 解放後は再度ロックできる
	cfg, err = p.LockForConfiguration(device)
	require.NoError(t, err)
	cfg.Unlock()
}

func TestV4L2Platform_DeviceConfigurationControlFailure(t *testing.T) {
	rec := &commandRecorder{err: errors.New("unknown control")}
	p, device := newTestV4L2Platform(t, rec)

	cfg, err := p.LockForConfiguration(device)
	require.NoError(t, err)
	defer cfg.Unlock()

	assert.False(t, cfg.SetFocusMode(FocusLocked))
	assert.False(t, cfg.SetExposureMode(ExposureLocked))
	assert.Equal(t, ExposureAuto, cfg.ExposureMode())
}

func TestV4L2Platform_LockMissingDevice(t *testing.T) {
	p := NewV4L2Platform(V4L2Options{})

	_, err := p.LockForConfiguration(DeviceHandle{ID: "v4l2-99", Path: "/dev/video999"})
	assert.Error(t, err)
}

func TestV4L2Session_Graph(t *testing.T) {
	p, device := newTestV4L2Platform(t, &commandRecorder{})
	s := p.NewSession()

	input, err := s.NewInput(device)
	require.NoError(t, err)
	require.True(t, s.CanAddInput(input))
	s.AddInput(input)
	assert.True(t, s.HasInput(input))

	// 同じ種類の映像入力は1つまで
	other, err := s.NewInput(device)
	require.NoError(t, err)
	assert.False(t, s.CanAddInput(other))

	audio, err := s.NewInput(DeviceHandle{ID: "alsa-default", Path: "default", MediaType: MediaTypeAudio})
	require.NoError(t, err)
	assert.True(t, s.CanAddInput(audio))

	s.RemoveInput(input)
	assert.False(t, s.HasInput(input))
	assert.True(t, s.CanAddInput(other))

	photo := s.NewPhotoOutput()
	require.True(t, s.CanAddOutput(photo))
	s.AddOutput(photo)
	assert.False(t, s.CanAddOutput(s.NewPhotoOutput()))
	assert.True(t, s.CanAddOutput(s.NewMovieOutput()))

	assert.False(t, s.IsRunning())
	s.StartRunning()
	assert.True(t, s.IsRunning())
	s.StopRunning()
	assert.False(t, s.IsRunning())

	_, err = s.NewInput(DeviceHandle{Path: "/dev/video999", MediaType: MediaTypeVideo})
	assert.Error(t, err)
}

func TestV4L2PhotoOutput_CapturePhoto(t *testing.T) {
	data, err := MockJPEG(4, 4)
	require.NoError(t, err)

	tests := []struct {
		name      string
		output    []byte
		err       error
		withInput bool
		recording bool
		wantErr   error
	}{
		{name: "成功", output: data, withInput: true},
		{name: "空の出力", output: nil, withInput: true, wantErr: ErrNoSampleBuffer},
		{name: "入力なし", withInput: false, wantErr: ErrInputsAreInvalid},
		{name: "録画中", output: data, withInput: true, recording: true, wantErr: ErrInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &commandRecorder{output: tt.output, err: tt.err}
			p, device := newTestV4L2Platform(t, rec)
			s := p.NewSession()

			if tt.withInput {
				input, err := s.NewInput(device)
				require.NoError(t, err)
				s.AddInput(input)
			}
			if tt.recording {
				movie := s.NewMovieOutput().(*v4l2MovieOutput)
				movie.cmd = &exec.Cmd{}
				s.AddOutput(movie)
			}

			delegate := newDelegateRecorder()
			s.NewPhotoOutput().CapturePhoto(PhotoSettings{Format: "jpeg"}, delegate)

			select {
			case buf := <-delegate.ready:
				require.Nil(t, tt.wantErr)
				assert.Equal(t, data, buf.Data)
				calls := rec.Calls()
				require.Len(t, calls, 1)
				assert.Equal(t, "ffmpeg", calls[0][0])
			case err := <-delegate.failed:
				require.ErrorIs(t, err, tt.wantErr)
				if tt.recording {
					assert.Empty(t, rec.Calls())
				}
			case <-time.After(testTimeout):
				t.Fatal("delegate was not called")
			}
		})
	}
}

func TestPhotoArgs(t *testing.T) {
	args := strings.Join(photoArgs("/dev/video0", 640, 480), " ")

	assert.Contains(t, args, "-f v4l2")
	assert.Contains(t, args, "-video_size 640x480")
	assert.Contains(t, args, "-i /dev/video0")
	assert.Contains(t, args, "-vframes 1")
	assert.True(t, strings.HasSuffix(args, " -"))
}

func TestMovieArgs(t *testing.T) {
	tests := []struct {
		name        string
		audio       string
		conn        ConnectionSettings
		contains    []string
		notContains []string
	}{
		{
			name:  "音声と左右反転・手ブレ補正",
			audio: "default",
			conn:  ConnectionSettings{Orientation: VideoLandscapeRight, Mirrored: true, Stabilization: StabilizationAuto},
			contains: []string{
				"-f alsa -i default",
				"-vf hflip,deshake",
				"-c:a aac",
				"rotate=0",
			},
		},
		{
			name:        "映像のみ",
			conn:        ConnectionSettings{Orientation: VideoPortrait, Stabilization: StabilizationOff},
			contains:    []string{"-framerate 30", "rotate=90"},
			notContains: []string{"alsa", "-vf", "-c:a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv := movieArgs("/dev/video0", tt.audio, 1280, 720, 30, tt.conn, "/tmp/out.mov")
			args := strings.Join(argv, " ")

			assert.Equal(t, "/tmp/out.mov", argv[len(argv)-1])
			assert.Contains(t, args, "-i /dev/video0")
			for _, s := range tt.contains {
				assert.Contains(t, args, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, args, s)
			}
		})
	}
}

func TestRotationDegrees(t *testing.T) {
	// 端末の向きからプレビューの向きを経て回転角を得る
	tests := map[DeviceOrientation]int{
		DevicePortrait:           90,
		DevicePortraitUpsideDown: 90,
		DeviceFaceUp:             90,
		DeviceUnknown:            90,
		DeviceLandscapeRight:     180,
		DeviceLandscapeLeft:      0,
	}

	for o, want := range tests {
		if got := rotationDegrees(PreviewOrientation(o)); got != want {
			t.Errorf("rotationDegrees(PreviewOrientation(%s)) = %d, want %d", o, got, want)
		}
	}
}

func TestV4L2Platform_ValidateTools(t *testing.T) {
	rec := &commandRecorder{}
	p, _ := newTestV4L2Platform(t, rec)

	require.NoError(t, p.ValidateTools(context.Background()))
	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"ffmpeg", "-version"}, calls[0])
	assert.Equal(t, []string{"v4l2-ctl", "--version"}, calls[1])

	p.run = (&commandRecorder{err: errors.New("not found")}).run
	assert.Error(t, p.ValidateTools(context.Background()))
}
