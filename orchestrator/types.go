package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rowlytics/capture-pipeline/artifact"
	"github.com/rowlytics/capture-pipeline/camera"
	"github.com/rowlytics/capture-pipeline/capture"
	"github.com/rowlytics/capture-pipeline/clients"
	"github.com/rowlytics/capture-pipeline/features"
	"github.com/rowlytics/capture-pipeline/pose"
	"github.com/rowlytics/capture-pipeline/status"
)

// ErrCapabilityUnavailable means a session could not acquire something it
// needs to record: the camera, the pose model or the recorder.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// Detector finds body landmarks in an encoded frame. *clients.PoseClient
// implements it.
type Detector interface {
	Detect(ctx context.Context, frame []byte, tsMs int64) (*clients.Detection, error)
	Health(ctx context.Context) error
}

var _ Detector = (*clients.PoseClient)(nil)

// Deps are the collaborators a session drives.
type Deps struct {
	Camera   camera.Opener
	Detector Detector
	Sink     artifact.Sink
	// Recorder defaults to a capture.BufferRecorder bounded by MaxClipBytes.
	Recorder capture.Recorder
}

// Options configure one session.
type Options struct {
	UserID        string
	Device        string
	DisplayWidth  int
	DisplayHeight int

	Qualifier pose.QualifierOptions
	Features  features.Options
	Timing    capture.Timing

	// UploadFeatures sends every processed feature frame to the sink.
	UploadFeatures bool
	MaxClipBytes   int
	// OutputsDir, when set, receives a session_<ts> bundle on Close.
	OutputsDir string
	// DrainTimeout bounds how long Close waits for background uploads.
	DrainTimeout time.Duration

	Clock      capture.Clock
	Logger     logrus.FieldLogger
	Publishers []status.Publisher
	// OnError observes every background failure after it has been logged.
	OnError func(task string, err error)
}

func (o *Options) applyDefaults() {
	if o.Qualifier == (pose.QualifierOptions{}) {
		o.Qualifier = pose.DefaultQualifierOptions()
	}
	if o.Features == (features.Options{}) {
		o.Features = features.DefaultOptions()
	}
	if o.Timing == (capture.Timing{}) {
		o.Timing = capture.DefaultTiming()
	}
	if o.MaxClipBytes <= 0 {
		o.MaxClipBytes = 64 << 20
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = capture.SystemClock()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}
