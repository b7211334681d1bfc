package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the controller's tagged state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Timing holds the gate thresholds.
type Timing struct {
	InFrameThreshold time.Duration
	Cooldown         time.Duration
	ClipDuration     time.Duration
}

// DefaultTiming: five seconds framed, three seconds between automatic
// triggers, five second clips.
func DefaultTiming() Timing {
	return Timing{
		InFrameThreshold: 5 * time.Second,
		Cooldown:         3 * time.Second,
		ClipDuration:     5 * time.Second,
	}
}

// Clip is a finished recording ready for the artifact sink.
type Clip struct {
	ID          string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	ContentType string
	Data        []byte
}

// EventKind classifies controller events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventFinished
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Event reports a state transition.
type Event struct {
	Kind      EventKind
	CaptureID string
	At        time.Time
	Reason    string
	Err       error
}

// ControllerOptions wires a Controller. OnClip receives completed, uncancelled
// clips; OnEvent receives every transition. Both are called without the
// controller lock held and must not block for long.
type ControllerOptions struct {
	Timing   Timing
	Recorder Recorder
	Clock    Clock
	Logger   logrus.FieldLogger
	OnClip   func(Clip)
	OnEvent  func(Event)
}

type activeCapture struct {
	id         string
	startedAt  time.Time
	timer      Timer
	ctx        context.Context
	cancel     context.CancelFunc
	cancelled  bool
	finalizing bool
}

// Controller starts a bounded recording once dwell crosses the threshold,
// enforces the cooldown between automatic triggers and supports cancellation.
// All state lives in state/active and only the transition methods mutate it.
type Controller struct {
	timing  Timing
	rec     Recorder
	clock   Clock
	log     logrus.FieldLogger
	onClip  func(Clip)
	onEvent func(Event)

	mu          sync.Mutex
	state       State
	active      *activeCapture
	nextAllowed time.Time
}

// NewController builds an idle controller.
func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		timing:  opts.Timing,
		rec:     opts.Recorder,
		clock:   opts.Clock,
		log:     opts.Logger,
		onClip:  opts.OnClip,
		onEvent: opts.OnEvent,
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NextAllowedTrigger returns the earliest time an automatic trigger may fire.
func (c *Controller) NextAllowedTrigger() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextAllowed
}

// MaybeTrigger starts a capture when the controller is idle, dwell has reached
// the threshold and the cooldown has elapsed. It reports whether a capture
// started. A recorder that refuses to start leaves the controller idle.
func (c *Controller) MaybeTrigger(now time.Time, dwell *DwellTimer) (bool, error) {
	c.mu.Lock()
	if c.state != Idle || dwell.Accumulated() < c.timing.InFrameThreshold || now.Before(c.nextAllowed) {
		c.mu.Unlock()
		return false, nil
	}
	if err := c.rec.Start(); err != nil {
		c.mu.Unlock()
		err = fmt.Errorf("start recording: %w", err)
		c.emit(Event{Kind: EventFailed, At: now, Err: err})
		return false, err
	}
	dwell.Clear()
	c.nextAllowed = now.Add(c.timing.Cooldown)
	ctx, cancel := context.WithCancel(context.Background())
	a := &activeCapture{id: uuid.NewString(), startedAt: now, ctx: ctx, cancel: cancel}
	a.timer = c.clock.AfterFunc(c.timing.ClipDuration, func() { c.finish(a) })
	c.active = a
	c.state = Recording
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"capture_id": a.id,
		"duration":   c.timing.ClipDuration,
	}).Info("capture started")
	c.emit(Event{Kind: EventStarted, CaptureID: a.id, At: now})
	return true, nil
}

// finish runs when the clip duration elapses. The recorder may take a while
// to finalize; the controller stays in Recording until it returns.
func (c *Controller) finish(a *activeCapture) {
	c.mu.Lock()
	if c.active != a || a.cancelled || a.finalizing {
		c.mu.Unlock()
		return
	}
	a.finalizing = true
	c.mu.Unlock()

	data, err := c.rec.Stop(a.ctx)
	ended := c.clock.Now()

	c.mu.Lock()
	cancelled := a.cancelled
	if c.active == a {
		c.active = nil
		c.state = Idle
	}
	c.mu.Unlock()
	a.cancel()

	entry := c.log.WithField("capture_id", a.id)
	if cancelled {
		entry.Debug("capture cancelled during finalize, output discarded")
		return
	}
	if err != nil {
		err = fmt.Errorf("stop recording: %w", err)
		entry.WithError(err).Warn("capture finalize failed")
		c.emit(Event{Kind: EventFailed, CaptureID: a.id, At: ended, Err: err})
		return
	}

	clip := Clip{
		ID:          a.id,
		StartedAt:   a.startedAt,
		EndedAt:     ended,
		Duration:    c.timing.ClipDuration,
		ContentType: c.rec.ContentType(),
		Data:        data,
	}
	entry.WithField("bytes", len(data)).Info("capture finished")
	if c.onClip != nil {
		c.onClip(clip)
	}
	c.emit(Event{Kind: EventFinished, CaptureID: a.id, At: ended})
}

// Cancel halts the in-flight capture and discards its output. It reports
// whether there was anything to cancel.
func (c *Controller) Cancel(reason string) bool {
	c.mu.Lock()
	a := c.active
	if a == nil || a.cancelled {
		c.mu.Unlock()
		return false
	}
	a.cancelled = true
	a.timer.Stop()
	a.cancel()
	if !a.finalizing {
		c.rec.Abort()
		c.active = nil
		c.state = Idle
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"capture_id": a.id, "reason": reason}).Info("capture cancelled")
	c.emit(Event{Kind: EventCancelled, CaptureID: a.id, At: c.clock.Now(), Reason: reason})
	return true
}

// Reset cancels any capture and clears the cooldown, as for a fresh session.
func (c *Controller) Reset() {
	c.Cancel("reset")
	c.mu.Lock()
	c.nextAllowed = time.Time{}
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
