package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReplayOpener serves a directory of still images as a camera. The device
// name is the directory path. Frames are stamped at the configured rate from
// the moment the stream opens.
type ReplayOpener struct {
	LockDir string
	FPS     float64
	// Loop restarts from the first image instead of returning io.EOF.
	Loop bool
	// Realtime paces Next so frames arrive at FPS.
	Realtime bool
	// Now is the time source; nil means time.Now.
	Now func() time.Time
}

func (o ReplayOpener) Open(ctx context.Context, device string) (Stream, error) {
	files, err := listFrames(device)
	if err != nil {
		return nil, err
	}
	lock, err := AcquireLock(o.LockDir, device)
	if err != nil {
		return nil, err
	}
	fps := o.FPS
	if fps <= 0 {
		fps = 30
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return &replayStream{
		device:   device,
		files:    files,
		interval: time.Duration(float64(time.Second) / fps),
		loop:     o.Loop,
		realtime: o.Realtime,
		base:     now(),
		lock:     lock,
		closed:   make(chan struct{}),
	}, nil
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, ErrNoDevice)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames in %s: %w", dir, ErrNoDevice)
	}
	sort.Strings(files)
	return files, nil
}

type replayStream struct {
	device   string
	files    []string
	interval time.Duration
	loop     bool
	realtime bool
	base     time.Time
	lock     *Lock

	mu        sync.Mutex
	seq       uint64
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *replayStream) Device() string { return s.device }

func (s *replayStream) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()

	select {
	case <-s.closed:
		return Frame{}, ErrClosed
	default:
	}
	if !s.loop && seq >= uint64(len(s.files)) {
		return Frame{}, io.EOF
	}
	if s.realtime && seq > 0 {
		t := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return Frame{}, ctx.Err()
		case <-s.closed:
			t.Stop()
			return Frame{}, ErrClosed
		case <-t.C:
		}
	}

	s.mu.Lock()
	s.seq++
	s.mu.Unlock()

	path := s.files[seq%uint64(len(s.files))]
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame %s: %w: %w", path, ErrBadFrame, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame %s: %w: %w", path, ErrBadFrame, err)
	}
	return Frame{
		Seq:       seq,
		Timestamp: s.base.Add(time.Duration(seq) * s.interval),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      data,
	}, nil
}

func (s *replayStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.lock.Release()
	})
	return err
}
