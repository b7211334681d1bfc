package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rowlytics/capture-pipeline/artifact"
	"github.com/rowlytics/capture-pipeline/camera"
	"github.com/rowlytics/capture-pipeline/capture"
	"github.com/rowlytics/capture-pipeline/features"
	"github.com/rowlytics/capture-pipeline/pose"
	"github.com/rowlytics/capture-pipeline/status"
)

// Session is one camera-on period. Open acquires the camera and checks the
// pose model; Close releases everything and may be called on any path.
type Session struct {
	id   string
	opts Options
	log  logrus.FieldLogger

	opener   camera.Opener
	detector Detector
	sink     artifact.Sink
	rec      capture.Recorder

	ctrl      *capture.Controller
	indicator *status.Indicator
	tasks     *tasks
	stats     *stats
	keypoints keypointLog
	startedAt time.Time

	lastFramed atomic.Bool

	mu      sync.Mutex
	stream  camera.Stream
	dwell   capture.DwellTimer
	lastTS  time.Time
	hasLast bool
	closed  bool
	loop    sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Open starts a session on opts.Device. Failing to acquire the camera or a
// healthy pose model returns an error wrapping ErrCapabilityUnavailable, and
// nothing acquired so far outlives the call.
func Open(ctx context.Context, opts Options, deps Deps) (*Session, error) {
	opts.applyDefaults()
	if deps.Camera == nil || deps.Detector == nil || deps.Sink == nil {
		return nil, errors.New("orchestrator: camera, detector and sink are required")
	}
	id := uuid.NewString()
	log := opts.Logger.WithFields(logrus.Fields{"session_id": id, "device": opts.Device})

	s := &Session{
		id:       id,
		opts:     opts,
		log:      log,
		opener:   deps.Camera,
		detector: deps.Detector,
		sink:     deps.Sink,
		rec:      deps.Recorder,
		stats:    newStats(),
	}
	if s.rec == nil {
		s.rec = capture.NewBufferRecorder(opts.MaxClipBytes)
	}
	s.indicator = status.NewIndicator(id, opts.Timing.ClipDuration, log, opts.Publishers...)
	s.indicator.Set(status.NotFramed)

	if err := s.detector.Health(ctx); err != nil {
		s.indicator.Flash(status.MsgPoseModelFailed)
		return nil, fmt.Errorf("pose model: %w: %w", ErrCapabilityUnavailable, err)
	}
	stream, err := s.opener.Open(ctx, opts.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w: %w", opts.Device, ErrCapabilityUnavailable, err)
	}
	s.stream = stream

	s.tasks = newTasks(s.report)
	s.ctrl = capture.NewController(capture.ControllerOptions{
		Timing:   opts.Timing,
		Recorder: s.rec,
		Clock:    opts.Clock,
		Logger:   log,
		OnClip:   s.onClip,
		OnEvent:  s.onEvent,
	})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.startedAt = opts.Clock.Now()
	log.Info("session opened")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the text the indicator currently shows.
func (s *Session) Status() string { return s.indicator.Current() }

// Summary returns the running session aggregates.
func (s *Session) Summary() Summary { return s.stats.snapshot() }

// Run pulls frames until ctx ends, the stream is exhausted or the session is
// closed. Frame-level failures, including unreadable frames, never end the
// loop.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return camera.ErrClosed
	}
	s.loop.Add(1)
	s.mu.Unlock()
	defer s.loop.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.runCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		stream := s.currentStream()
		frame, err := stream.Next(ctx)
		switch {
		case err == nil:
			s.ProcessFrame(ctx, frame)
		case errors.Is(err, camera.ErrBadFrame):
			s.stats.update(func(sum *Summary) { sum.BadFrames++ })
			s.log.WithError(err).Warn("skipping unreadable frame")
		case errors.Is(err, io.EOF):
			s.log.Info("camera stream ended")
			return nil
		case errors.Is(err, camera.ErrClosed):
			if s.isClosed() {
				return nil
			}
			// swapped out by SwitchCamera; pick up the replacement
			if s.currentStream() != stream {
				continue
			}
			return err
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("read frame: %w", err)
		}
	}
}

func (s *Session) currentStream() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ProcessFrame runs one pass of the pipeline: detect, qualify, accumulate
// dwell, maybe trigger, record, extract and queue the feature upload. A frame
// carrying the previous frame's timestamp is skipped.
func (s *Session) ProcessFrame(ctx context.Context, f camera.Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.hasLast && f.Timestamp.Equal(s.lastTS) {
		s.mu.Unlock()
		s.stats.update(func(sum *Summary) { sum.Duplicates++ })
		return
	}
	s.lastTS, s.hasLast = f.Timestamp, true
	s.mu.Unlock()

	set := s.detect(ctx, f)
	framed := pose.IsFullyFramed(set, s.opts.Qualifier)
	s.lastFramed.Store(framed)

	// Close may have run during detection; no capture may start after it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.dwell.Observe(framed, f.Timestamp)
	_, err := s.ctrl.MaybeTrigger(f.Timestamp, &s.dwell)
	s.mu.Unlock()
	if err != nil {
		s.report("capture start", fmt.Errorf("%w: %w", ErrCapabilityUnavailable, err))
	}

	if s.ctrl.State() == capture.Recording {
		if _, err := s.rec.Write(f.Data); err != nil {
			s.log.WithError(err).Debug("recorder dropped frame")
		}
		s.indicator.Set(status.Recording)
	} else if framed {
		s.indicator.Set(status.Framed)
	} else {
		s.indicator.Set(status.NotFramed)
	}

	vp := features.Fit(f.Width, f.Height, s.opts.DisplayWidth, s.opts.DisplayHeight)
	frame := features.Extract(set, vp, s.opts.Features)
	s.stats.observe(framed, frame)
	s.keypoints.add(f.Timestamp, set)

	if s.opts.UploadFeatures {
		rec := artifact.FeatureRecord{UserID: s.opts.UserID, Frame: frame, CreatedAt: f.Timestamp.UTC()}
		s.tasks.Go("feature upload", func(ctx context.Context) error {
			return s.sink.SaveFeatureFrame(ctx, rec)
		})
	}
}

func (s *Session) detect(ctx context.Context, f camera.Frame) *pose.LandmarkSet {
	det, err := s.detector.Detect(ctx, f.Data, f.Timestamp.UnixMilli())
	if err != nil {
		s.stats.update(func(sum *Summary) { sum.DetectFailures++ })
		s.log.WithError(err).WithField("seq", f.Seq).Debug("detection failed, treating frame as not framed")
		return nil
	}
	return det.First()
}

// onClip uploads a finished clip: presign, upload, then metadata.
func (s *Session) onClip(clip capture.Clip) {
	s.settle()
	started := s.tasks.Go("clip upload", func(ctx context.Context) error {
		target, err := s.sink.Presign(ctx, s.opts.UserID, clip.ContentType)
		if err != nil {
			return fmt.Errorf("presign: %w", err)
		}
		if err := s.sink.Upload(ctx, target, clip.ContentType, clip.Data); err != nil {
			return fmt.Errorf("upload %s: %w", target.ObjectKey, err)
		}
		err = s.sink.SaveRecording(ctx, artifact.Recording{
			UserID:      s.opts.UserID,
			ObjectKey:   target.ObjectKey,
			ContentType: clip.ContentType,
			DurationSec: clip.Duration.Seconds(),
			CreatedAt:   clip.StartedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("save recording %s: %w", target.ObjectKey, err)
		}
		s.stats.update(func(sum *Summary) { sum.ClipsUploaded++ })
		s.log.WithFields(logrus.Fields{"capture_id": clip.ID, "object_key": target.ObjectKey}).Info("clip uploaded")
		return nil
	})
	if !started {
		s.report("clip upload", fmt.Errorf("clip %s dropped: %w", clip.ID, errSessionClosing))
	}
}

func (s *Session) onEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventStarted:
		s.stats.update(func(sum *Summary) { sum.ClipsStarted++ })
		s.indicator.Set(status.Recording)
	case capture.EventFinished:
		s.stats.update(func(sum *Summary) { sum.ClipsFinished++ })
		s.settle()
	case capture.EventCancelled:
		s.stats.update(func(sum *Summary) { sum.ClipsCancelled++ })
		s.settle()
	case capture.EventFailed:
		s.settle()
	}
}

// settle drops the recording state back to whatever the last frame showed.
func (s *Session) settle() {
	if s.lastFramed.Load() {
		s.indicator.Set(status.Framed)
	} else {
		s.indicator.Set(status.NotFramed)
	}
}

// report is the single sink for background and capture failures.
func (s *Session) report(task string, err error) {
	s.stats.update(func(sum *Summary) { sum.BackgroundFails++ })
	s.log.WithError(err).WithField("task", task).Warn("background task failed")
	if !errors.Is(err, ErrCapabilityUnavailable) {
		s.indicator.Flash(status.MsgUploadFailed)
	}
	if s.opts.OnError != nil {
		s.opts.OnError(task, err)
	}
}

// SwitchCamera moves the session to device. The new stream is opened before
// the old one is released; on failure the current camera stays active. Any
// in-flight capture is cancelled and dwell starts over.
func (s *Session) SwitchCamera(ctx context.Context, device string) error {
	if s.isClosed() {
		return camera.ErrClosed
	}
	next, err := s.opener.Open(ctx, device)
	if err != nil {
		return fmt.Errorf("open camera %s: %w", device, err)
	}
	s.ctrl.Cancel("camera switch")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = next.Close()
		return camera.ErrClosed
	}
	old := s.stream
	s.stream = next
	s.dwell.Reset()
	s.hasLast = false
	s.mu.Unlock()

	s.lastFramed.Store(false)
	s.indicator.Set(status.NotFramed)
	s.log.WithFields(logrus.Fields{"from": old.Device(), "to": device}).Info("camera switched")
	if err := old.Close(); err != nil {
		s.log.WithError(err).Warn("release previous camera")
	}
	return nil
}

// Close stops the loop, cancels any capture without persisting it, releases
// the camera, drains background uploads, then saves the workout summary.
// Calling it again returns the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Session) close() error {
	s.mu.Lock()
	s.closed = true
	stream := s.stream
	s.mu.Unlock()

	s.runCancel()
	s.ctrl.Cancel("session closed")
	var errs []error
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release camera: %w", err))
	}
	s.loop.Wait()

	s.mu.Lock()
	s.dwell.Reset()
	s.mu.Unlock()

	if !s.tasks.Shutdown(s.opts.DrainTimeout) {
		s.log.WithField("timeout", s.opts.DrainTimeout).Warn("background uploads still running at close")
	}

	completed := s.opts.Clock.Now()
	sum := s.stats.snapshot()
	workout := artifact.Workout{
		DurationSec: completed.Sub(s.startedAt).Seconds(),
		StartedAt:   s.startedAt.UTC(),
		CompletedAt: completed.UTC(),
		Summary:     sum.Text(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DrainTimeout)
	defer cancel()
	if err := s.sink.SaveWorkout(ctx, workout); err != nil {
		s.log.WithError(err).Warn("save workout failed")
		if s.opts.OnError != nil {
			s.opts.OnError("workout", err)
		}
	}

	if s.opts.OutputsDir != "" {
		dir, err := persist(s.opts.OutputsDir, PersistBundle{
			SessionID:   s.id,
			UserID:      s.opts.UserID,
			Device:      stream.Device(),
			GeneratedAt: completed,
			Workout:     workout,
			Summary:     sum,
		}, s.keypoints.snapshot())
		if err != nil {
			errs = append(errs, fmt.Errorf("write session bundle: %w", err))
		} else {
			s.log.WithField("dir", dir).Info("session bundle written")
		}
	}

	s.log.WithFields(logrus.Fields{
		"frames": sum.Frames,
		"clips":  sum.ClipsFinished,
	}).Info("session closed")
	return errors.Join(errs...)
}
