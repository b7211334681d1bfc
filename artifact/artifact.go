// Package artifact describes what the capture pipeline hands to persistence:
// recorded clips, per-frame feature records and workout summaries.
package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rowlytics/capture-pipeline/features"
)

// DefaultContentType is assumed when a caller does not name one.
const DefaultContentType = "video/webm"

// UploadTarget is where a finished recording's bytes go.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	ObjectKey string `json:"objectKey"`
	Bucket    string `json:"bucket,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

// Recording is the metadata persisted after an upload.
type Recording struct {
	UserID      string    `json:"userId"`
	ObjectKey   string    `json:"objectKey"`
	ContentType string    `json:"contentType"`
	DurationSec float64   `json:"durationSec"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FeatureRecord is one feature frame tagged with its owner.
type FeatureRecord struct {
	UserID    string         `json:"userId"`
	Frame     features.Frame `json:"frame"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Workout summarizes a finished session. WorkoutScore stays nil until a
// grading model exists.
type Workout struct {
	DurationSec  float64   `json:"durationSec"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt"`
	Summary      string    `json:"summary"`
	WorkoutScore *float64  `json:"workoutScore,omitempty"`
}

// Sink persists artifacts. Implementations must be safe for concurrent use;
// the session calls them from background goroutines.
type Sink interface {
	Presign(ctx context.Context, userID, contentType string) (UploadTarget, error)
	Upload(ctx context.Context, target UploadTarget, contentType string, data []byte) error
	SaveRecording(ctx context.Context, rec Recording) error
	SaveFeatureFrame(ctx context.Context, rec FeatureRecord) error
	SaveWorkout(ctx context.Context, w Workout) error
}

// Extension maps a content type to the object key suffix.
func Extension(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "webm"):
		return "webm"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "mjpeg"):
		return "mjpeg"
	default:
		return "bin"
	}
}

// ObjectKey builds recordings/<user>/<UTC stamp>-<id>.<ext>.
func ObjectKey(userID, contentType string, at time.Time, id string) string {
	id = strings.ReplaceAll(id, "-", "")
	return fmt.Sprintf("recordings/%s/%s-%s.%s",
		userID, at.UTC().Format("20060102T150405Z"), id, Extension(contentType))
}
