// Package capturetest provides deterministic clocks and recorders for tests
// that drive the capture controller.
package capturetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rowlytics/capture-pipeline/capture"
)

// ManualClock only moves when Advance is called. Timers due at or before the
// new time fire synchronously, in deadline order, on the caller's goroutine.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewManualClock starts at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) capture.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires due timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Recorder counts calls and can hold Stop open until Release is called.
type Recorder struct {
	mu       sync.Mutex
	starts   int
	stops    int
	aborts   int
	writes   int
	data     []byte
	open     bool
	StartErr error
	block    chan struct{}
	entered  chan struct{}
}

// NewRecorder returns a recorder whose Stop returns immediately.
func NewRecorder() *Recorder { return &Recorder{} }

// NewBlockingRecorder returns a recorder whose Stop waits for Release.
// Entered is closed when Stop starts waiting.
func NewBlockingRecorder() *Recorder {
	return &Recorder{block: make(chan struct{}), entered: make(chan struct{})}
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.starts++
	r.open = true
	r.data = r.data[:0]
	return nil
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.writes++
		r.data = append(r.data, p...)
	}
	return len(p), nil
}

func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	r.stops++
	block, entered := r.block, r.entered
	r.mu.Unlock()
	if block != nil {
		close(entered)
		<-block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	out := append([]byte(nil), r.data...)
	return out, nil
}

func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	r.open = false
	r.data = r.data[:0]
}

func (r *Recorder) ContentType() string { return capture.ContentTypeMJPEG }

// Entered is closed once a blocking Stop is waiting.
func (r *Recorder) Entered() <-chan struct{} { return r.entered }

// Release lets a blocked Stop return.
func (r *Recorder) Release() { close(r.block) }

// Counts returns starts, stops, aborts and writes so far.
func (r *Recorder) Counts() (starts, stops, aborts, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, r.aborts, r.writes
}
