package orchestrator

import (
	"encoding/csv"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rowlytics/capture-pipeline/camera"
	"github.com/rowlytics/capture-pipeline/capture"
	"github.com/rowlytics/capture-pipeline/status"
)

func TestEndToEndSingleCapture(t *testing.T) {
	h := newHarness(t, nil)

	// 5.1s at 30fps; dwell reaches exactly 5000ms on frame 150.
	h.feed(0, 154)
	if h.s.ctrl.State() != capture.Recording {
		t.Fatalf("expected recording, got %v", h.s.ctrl.State())
	}
	if got := h.s.Status(); got != "recording 5s clip" {
		t.Fatalf("status = %q", got)
	}

	h.clock.Advance(5 * time.Second)
	h.drain()

	presigns, uploads, records, feats, _ := h.sink.counts()
	if presigns != 1 || uploads != 1 || records != 1 {
		t.Fatalf("expected one clip upload chain, got presign=%d upload=%d record=%d", presigns, uploads, records)
	}
	if feats != 154 {
		t.Fatalf("expected 154 feature uploads, got %d", feats)
	}
	if got := len(h.sink.uploads[0]); got != 4*3 {
		t.Fatalf("clip should hold the four recorded frames, got %d bytes", got)
	}
	rec := h.sink.records[0]
	if rec.DurationSec != 5 || rec.UserID != "athlete" || !strings.HasSuffix(rec.ObjectKey, ".mjpeg") {
		t.Fatalf("unexpected recording %+v", rec)
	}

	want := []string{"not framed", "framed", "recording 5s clip", "framed"}
	got := h.statuses.all()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("status sequence %q, want %q", got, want)
	}
}

func TestEmptyFramesResetDwell(t *testing.T) {
	h := newHarness(t, nil)
	gapStart := epoch.Add(2 * time.Second)
	gapEnd := gapStart.Add(3 * time.Second / 30)
	h.detector.framed = func(ms int64) bool {
		ts := time.UnixMilli(ms)
		return ts.Before(gapStart) || !ts.Before(gapEnd)
	}

	h.feed(0, 60)
	if h.s.dwell.Accumulated() < 1900*time.Millisecond {
		t.Fatalf("dwell should be building, got %v", h.s.dwell.Accumulated())
	}
	h.feed(60, 63)
	if got := h.s.dwell.Accumulated(); got != 0 {
		t.Fatalf("dwell after three empty frames = %v, want 0", got)
	}

	// 4.9s more of framing is still short of the threshold.
	h.feed(63, 63+147)
	if h.s.ctrl.State() != capture.Idle {
		t.Fatal("capture should not have triggered")
	}
	if sum := h.s.Summary(); sum.ClipsStarted != 0 || sum.Framed != 207 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestDetectionFailureCountsAsNotFramed(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(0, 30)
	h.detector.err = errBoom
	h.feed(30, 31)
	if h.s.dwell.Accumulated() != 0 || h.s.Status() != "not framed" {
		t.Fatalf("dwell=%v status=%q", h.s.dwell.Accumulated(), h.s.Status())
	}
	if sum := h.s.Summary(); sum.DetectFailures != 1 || sum.Frames != 31 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	h.detector.err = nil
	h.feed(31, 32)
	if h.s.Status() != "framed" {
		t.Fatalf("status = %q", h.s.Status())
	}
}

func TestDuplicateFramesSkipped(t *testing.T) {
	h := newHarness(t, nil)
	f := frameAt(0)
	h.s.ProcessFrame(testContext(t), f)
	h.s.ProcessFrame(testContext(t), f)
	h.s.ProcessFrame(testContext(t), frameAt(1))
	h.s.ProcessFrame(testContext(t), frameAt(1))
	h.drain()

	sum := h.s.Summary()
	if sum.Frames != 2 || sum.Duplicates != 2 {
		t.Fatalf("frames=%d duplicates=%d", sum.Frames, sum.Duplicates)
	}
	if h.detector.calls != 2 {
		t.Fatalf("detector called %d times", h.detector.calls)
	}
	if _, _, _, feats, _ := h.sink.counts(); feats != 2 {
		t.Fatalf("feature uploads = %d", feats)
	}
	if got := h.s.dwell.Accumulated(); got != time.Second/30 {
		t.Fatalf("dwell = %v", got)
	}
}

func TestCloseCancelsInFlightCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(0, 160)
	if h.s.ctrl.State() != capture.Recording {
		t.Fatal("expected recording")
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	h.clock.Advance(10 * time.Second)

	presigns, uploads, records, _, workouts := h.sink.counts()
	if presigns != 0 || uploads != 0 || records != 0 {
		t.Fatalf("cancelled capture reached the sink: presign=%d upload=%d record=%d", presigns, uploads, records)
	}
	if workouts != 1 {
		t.Fatalf("expected workout summary, got %d", workouts)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("stop timer still armed")
	}
	if !h.opener.opened[0].isClosed() {
		t.Fatal("camera not released")
	}
	if sum := h.s.Summary(); sum.ClipsCancelled != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, _, _, _, workouts := h.sink.counts(); workouts != 1 {
		t.Fatal("Close is not idempotent")
	}
}

func TestCloseDuringDetectionStartsNoCapture(t *testing.T) {
	h := newHarness(t, nil)
	closed := make(chan error, 1)
	// Frame 150 is the one that would cross the dwell threshold.
	h.detector.during = func(call int) {
		if call != 151 {
			return
		}
		go func() { closed <- h.s.Close() }()
		for !h.s.isClosed() {
			time.Sleep(time.Millisecond)
		}
	}

	h.feed(0, 151)
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := h.s.ctrl.State(); got != capture.Idle {
		t.Fatalf("controller state after Close = %v, want idle", got)
	}
	if h.clock.Pending() != 0 {
		t.Fatal("stop timer armed after Close")
	}
	if rec, ok := h.s.rec.(*capture.BufferRecorder); !ok || rec.Recording() {
		t.Fatal("recorder left open after Close")
	}
	if sum := h.s.Summary(); sum.ClipsStarted != 0 {
		t.Fatalf("capture started after Close: %+v", sum)
	}
}

func TestClipAfterCloseIsReported(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	h.s.onClip(capture.Clip{ID: "late", ContentType: capture.ContentTypeMJPEG, Data: []byte{1}})

	if got := h.errors(); len(got) != 1 || got[0] != "clip upload" {
		t.Fatalf("expected dropped clip to be reported, got %v", got)
	}
	if presigns, _, _, _, _ := h.sink.counts(); presigns != 0 {
		t.Fatalf("clip reached the sink after Close: %d presigns", presigns)
	}
}

func TestRunSkipsUnreadableFrame(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for _, name := range []string{"000.png", "002.png"} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		f.Close()
	}
	if err := os.WriteFile(filepath.Join(dir, "001.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write corrupt frame: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sink := &fakeSink{}
	s, err := Open(testContext(t), Options{
		UserID:       "athlete",
		Device:       dir,
		DrainTimeout: 2 * time.Second,
		Logger:       logger,
	}, Deps{
		Camera:   camera.ReplayOpener{LockDir: t.TempDir(), FPS: 30},
		Detector: &fakeDetector{},
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Run(testContext(t)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sum := s.Summary()
	if sum.Frames != 2 || sum.BadFrames != 1 {
		t.Fatalf("expected 2 frames and 1 bad frame, got %+v", sum)
	}
}

func TestCooldownAcrossCaptures(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Timing = capture.Timing{InFrameThreshold: time.Second, Cooldown: 3 * time.Second, ClipDuration: 500 * time.Millisecond}
		o.UploadFeatures = false
	})
	h.feed(0, 31) // trigger at 1s
	h.clock.Advance(time.Second)
	h.feed(31, 91) // dwell crosses 1s again at 2s but cooldown runs to 4s
	if h.s.ctrl.State() != capture.Idle {
		t.Fatal("cooldown should block the second trigger")
	}
	h.feed(91, 121) // frame 120 is at 4s
	if h.s.ctrl.State() != capture.Recording {
		t.Fatal("expected second capture after cooldown")
	}
	h.clock.Advance(time.Second)
	h.drain()
	if _, uploads, _, _, _ := h.sink.counts(); uploads != 2 {
		t.Fatalf("expected two uploads, got %d", uploads)
	}
}

func TestUploadFailureIsReported(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.UploadFeatures = false })
	h.sink.uploadErr = errBoom

	h.feed(0, 151)
	h.clock.Advance(5 * time.Second)
	h.drain()

	if got := h.s.Status(); got != "Upload failed" {
		t.Fatalf("status = %q", got)
	}
	if errs := h.errors(); len(errs) != 1 || errs[0] != "clip upload" {
		t.Fatalf("reported %v", errs)
	}
	if _, _, records, _, _ := h.sink.counts(); records != 0 {
		t.Fatal("metadata saved after failed upload")
	}

	// the loop keeps going and the message clears on the next transition
	h.detector.framed = func(int64) bool { return false }
	h.feed(151, 152)
	if got := h.s.Status(); got != "not framed" {
		t.Fatalf("status = %q", got)
	}
}

func TestSwitchCamera(t *testing.T) {
	h := newHarness(t, nil)
	h.feed(0, 155)
	if h.s.ctrl.State() != capture.Recording {
		t.Fatal("expected recording")
	}

	h.opener.fail["cam-broken"] = camera.ErrNoDevice
	if err := h.s.SwitchCamera(testContext(t), "cam-broken"); !errors.Is(err, camera.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if h.opener.opened[0].isClosed() || h.s.ctrl.State() != capture.Recording {
		t.Fatal("failed switch must leave the current camera and capture alone")
	}

	if err := h.s.SwitchCamera(testContext(t), "cam1"); err != nil {
		t.Fatalf("SwitchCamera failed: %v", err)
	}
	if !h.opener.opened[0].isClosed() || h.opener.opened[1].isClosed() {
		t.Fatal("expected old stream released and new one live")
	}
	if h.s.ctrl.State() != capture.Idle || h.s.dwell.Accumulated() != 0 {
		t.Fatal("switch should cancel the capture and reset dwell")
	}
	h.clock.Advance(5 * time.Second)
	h.drain()
	if presigns, _, _, _, _ := h.sink.counts(); presigns != 0 {
		t.Fatal("cancelled capture was uploaded")
	}
	if h.s.currentStream().Device() != "cam1" {
		t.Fatalf("stream device = %s", h.s.currentStream().Device())
	}
}

func TestOpenFailures(t *testing.T) {
	h := newHarness(t, nil)
	opener := &fakeOpener{fail: map[string]error{"cam0": camera.ErrLocked}}
	_, err := Open(testContext(t), Options{Device: "cam0"}, Deps{Camera: opener, Detector: &fakeDetector{}, Sink: h.sink})
	if !errors.Is(err, ErrCapabilityUnavailable) || !errors.Is(err, camera.ErrLocked) {
		t.Fatalf("expected capability error wrapping ErrLocked, got %v", err)
	}

	opener = &fakeOpener{}
	det := &fakeDetector{healthErr: errBoom}
	rec := &textRecorder{}
	_, err = Open(testContext(t), Options{Device: "cam0", Publishers: []status.Publisher{rec}}, Deps{Camera: opener, Detector: det, Sink: h.sink})
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if got := rec.all(); len(got) != 2 || got[1] != status.MsgPoseModelFailed {
		t.Fatalf("expected pose model message, got %v", got)
	}
	if len(opener.opened) != 0 {
		t.Fatal("camera must not be opened when the model is down")
	}
}

func TestRunUntilEOFWritesBundle(t *testing.T) {
	out := t.TempDir()
	h := newHarness(t, func(o *Options) { o.OutputsDir = out })
	frames := make([]camera.Frame, 0, 70)
	for i := 0; i < 70; i++ {
		frames = append(frames, frameAt(i))
	}
	h.opener.opened[0].frames = frames

	if err := h.s.Run(testContext(t)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dirs, err := filepath.Glob(filepath.Join(out, "session_*"))
	if err != nil || len(dirs) != 1 {
		t.Fatalf("expected one session dir, got %v (%v)", dirs, err)
	}
	if _, err := os.Stat(filepath.Join(dirs[0], "summary.json")); err != nil {
		t.Fatalf("summary.json missing: %v", err)
	}
	f, err := os.Open(filepath.Join(dirs[0], "keypoints_per_second.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// 70 frames at 30fps span seconds 0, 1 and 2.
	if len(rows) != 1+3*33 {
		t.Fatalf("expected %d rows, got %d", 1+3*33, len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(keypointColumns, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][4] != "nose" || rows[34][0] != "1" {
		t.Fatalf("unexpected rows %v / %v", rows[1], rows[34])
	}

	_, _, _, _, workouts := h.sink.counts()
	if workouts != 1 || !strings.HasPrefix(h.sink.workouts[0].Summary, "70 frames, 100% framed, 0 clips captured") {
		t.Fatalf("unexpected workout %+v", h.sink.workouts)
	}
}

func TestRunAfterCloseFails(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.s.Run(testContext(t)); !errors.Is(err, camera.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
