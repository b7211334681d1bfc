package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rowlytics/capture-pipeline/artifact"
	"github.com/rowlytics/capture-pipeline/camera"
	"github.com/rowlytics/capture-pipeline/capture/capturetest"
	"github.com/rowlytics/capture-pipeline/clients"
	"github.com/rowlytics/capture-pipeline/pose"
	"github.com/rowlytics/capture-pipeline/status"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func centredSet() pose.LandmarkSet {
	var set pose.LandmarkSet
	for i := range set.Points {
		set.Points[i] = pose.Point(0.5, 0.5, 0.95)
	}
	set.Points[pose.RightHip] = pose.Point(0.45, 0.55, 0.95)
	set.Points[pose.RightKnee] = pose.Point(0.55, 0.6, 0.95)
	return set
}

type fakeDetector struct {
	mu        sync.Mutex
	healthErr error
	err       error
	// framed decides per timestamp whether a person is found.
	framed func(tsMs int64) bool
	// during runs inside Detect with the 1-based call number.
	during func(call int)
	calls  int
}

func (d *fakeDetector) Detect(_ context.Context, _ []byte, tsMs int64) (*clients.Detection, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	if d.during != nil {
		d.during(call)
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.framed != nil && !d.framed(tsMs) {
		return &clients.Detection{}, nil
	}
	return &clients.Detection{LandmarksPerPerson: []pose.LandmarkSet{centredSet()}}, nil
}

func (d *fakeDetector) Health(context.Context) error { return d.healthErr }

type fakeSink struct {
	mu        sync.Mutex
	presigns  int
	uploads   [][]byte
	records   []artifact.Recording
	features  int
	workouts  []artifact.Workout
	uploadErr error
}

func (s *fakeSink) Presign(_ context.Context, userID, contentType string) (artifact.UploadTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigns++
	key := artifact.ObjectKey(userID, contentType, epoch, "id")
	return artifact.UploadTarget{UploadURL: "mem://" + key, ObjectKey: key}, nil
}

func (s *fakeSink) Upload(_ context.Context, _ artifact.UploadTarget, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploads = append(s.uploads, data)
	return nil
}

func (s *fakeSink) SaveRecording(_ context.Context, rec artifact.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) SaveFeatureFrame(context.Context, artifact.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features++
	return nil
}

func (s *fakeSink) SaveWorkout(_ context.Context, w artifact.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts = append(s.workouts, w)
	return nil
}

func (s *fakeSink) counts() (presigns, uploads, records, features, workouts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presigns, len(s.uploads), len(s.records), s.features, len(s.workouts)
}

// fakeStream serves frames from a slice, then io.EOF.
type fakeStream struct {
	device string
	frames []camera.Frame

	mu     sync.Mutex
	next   int
	closed bool
}

func (f *fakeStream) Next(ctx context.Context) (camera.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return camera.Frame{}, camera.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	if f.next >= len(f.frames) {
		return camera.Frame{}, io.EOF
	}
	fr := f.frames[f.next]
	f.next++
	return fr, nil
}

func (f *fakeStream) Device() string { return f.device }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	frames  map[string][]camera.Frame
	fail    map[string]error
	opened  []*fakeStream
	history []string
}

func (o *fakeOpener) Open(_ context.Context, device string) (camera.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[device]; err != nil {
		return nil, err
	}
	s := &fakeStream{device: device, frames: o.frames[device]}
	o.opened = append(o.opened, s)
	o.history = append(o.history, "open "+device)
	return s, nil
}

type textRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *textRecorder) Publish(u status.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, u.Text)
	return nil
}

func (r *textRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// frameAt is the i-th frame of a 30fps feed.
func frameAt(i int) camera.Frame {
	return camera.Frame{
		Seq:       uint64(i),
		Timestamp: epoch.Add(time.Duration(i) * time.Second / 30),
		Width:     640,
		Height:    480,
		Data:      []byte{0xff, 0xd8, byte(i)},
	}
}

type harness struct {
	t        *testing.T
	s        *Session
	clock    *capturetest.ManualClock
	detector *fakeDetector
	sink     *fakeSink
	opener   *fakeOpener
	statuses *textRecorder
	errs     []string
	errMu    sync.Mutex
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := &harness{
		t:        t,
		clock:    capturetest.NewManualClock(epoch),
		detector: &fakeDetector{},
		sink:     &fakeSink{},
		opener:   &fakeOpener{frames: map[string][]camera.Frame{}, fail: map[string]error{}},
		statuses: &textRecorder{},
	}
	opts := Options{
		UserID:         "athlete",
		Device:         "cam0",
		DisplayWidth:   1280,
		DisplayHeight:  720,
		UploadFeatures: true,
		DrainTimeout:   2 * time.Second,
		Clock:          h.clock,
		Logger:         logger,
		Publishers:     []status.Publisher{h.statuses},
		OnError: func(task string, err error) {
			h.errMu.Lock()
			h.errs = append(h.errs, task)
			h.errMu.Unlock()
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	s, err := Open(testContext(t), opts, Deps{Camera: h.opener, Detector: h.detector, Sink: h.sink})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	h.s = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) feed(from, to int) {
	for i := from; i < to; i++ {
		h.s.ProcessFrame(testContext(h.t), frameAt(i))
	}
}

func (h *harness) drain() {
	if !h.s.tasks.Wait(2 * time.Second) {
		h.t.Fatal("background tasks did not drain")
	}
}

func (h *harness) errors() []string {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return append([]string(nil), h.errs...)
}

var errBoom = errors.New("boom")
