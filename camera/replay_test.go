package camera

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for i := 0; i < n; i++ {
		f, err := os.Create(filepath.Join(dir, "frame_"+string(rune('a'+i))+".png"))
		if err != nil {
			t.Fatalf("create frame: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode frame: %v", err)
		}
		f.Close()
	}
	return dir
}

func TestReplayStreamsFramesThenEOF(t *testing.T) {
	dir := writeFrames(t, 3)
	base := time.Unix(1_700_000_000, 0)
	op := ReplayOpener{LockDir: t.TempDir(), FPS: 10, Now: func() time.Time { return base }}

	ctx := context.Background()
	s, err := op.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		f, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if f.Seq != uint64(i) || f.Width != 4 || f.Height != 3 {
			t.Fatalf("unexpected frame %d: seq=%d %dx%d", i, f.Seq, f.Width, f.Height)
		}
		if want := base.Add(time.Duration(i) * 100 * time.Millisecond); !f.Timestamp.Equal(want) {
			t.Fatalf("frame %d timestamp %v, want %v", i, f.Timestamp, want)
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReplayDeviceIsExclusive(t *testing.T) {
	dir := writeFrames(t, 1)
	op := ReplayOpener{LockDir: t.TempDir()}
	ctx := context.Background()

	first, err := op.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := op.Open(ctx, dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := first.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	second, err := op.Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen after release failed: %v", err)
	}
	second.Close()
}

func TestReplayMissingDevice(t *testing.T) {
	op := ReplayOpener{LockDir: t.TempDir()}
	_, err := op.Open(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestLockNameSanitizesDevicePaths(t *testing.T) {
	if got := lockName("/dev/video0"); got != "camera-dev_video0.lock" {
		t.Fatalf("unexpected lock name %q", got)
	}
	if got := lockName(""); got != "camera-default.lock" {
		t.Fatalf("unexpected lock name %q", got)
	}
}

func TestReplaySkipsPastUnreadableFrame(t *testing.T) {
	dir := writeFrames(t, 2)
	if err := os.WriteFile(filepath.Join(dir, "frame_a_bad.jpg"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write corrupt frame: %v", err)
	}
	op := ReplayOpener{LockDir: t.TempDir()}
	ctx := context.Background()
	s, err := op.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	// sorted: frame_a.png, frame_a_bad.jpg, frame_b.png
	wantErr := []bool{false, true, false}
	for i, bad := range wantErr {
		f, err := s.Next(ctx)
		if bad {
			if !errors.Is(err, ErrBadFrame) {
				t.Fatalf("Next %d: expected ErrBadFrame, got %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Fatalf("Next %d returned seq %d", i, f.Seq)
		}
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestLockPathLivesUnderLockDir(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireLock(dir, "/dev/video0")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer l.Release()
	if want := filepath.Join(dir, "camera-dev_video0.lock"); l.Path() != want {
		t.Fatalf("lock path %q, want %q", l.Path(), want)
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
}
