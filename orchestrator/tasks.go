package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errSessionClosing = errors.New("session closing")

// tasks runs fire-and-forget work off the frame loop. Every failure goes to
// report; nothing is retried.
type tasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	report func(task string, err error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newTasks(report func(string, error)) *tasks {
	ctx, cancel := context.WithCancel(context.Background())
	return &tasks{ctx: ctx, cancel: cancel, report: report}
}

// Go starts fn unless the group is already shutting down.
func (t *tasks) Go(name string, fn func(ctx context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if err := fn(t.ctx); err != nil {
			t.report(name, err)
		}
	}()
	return true
}

// Wait blocks until running tasks finish or timeout elapses, whichever comes
// first. It reports whether everything drained.
func (t *tasks) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown refuses new work, waits up to timeout and cancels stragglers.
func (t *tasks) Shutdown(timeout time.Duration) bool {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	drained := t.Wait(timeout)
	t.cancel()
	return drained
}
