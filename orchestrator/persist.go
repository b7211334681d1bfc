package orchestrator

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rowlytics/capture-pipeline/artifact"
	"github.com/rowlytics/capture-pipeline/pose"
)

type PersistBundle struct {
	SessionID   string           `json:"session_id"`
	UserID      string           `json:"user_id"`
	Device      string           `json:"device"`
	GeneratedAt time.Time        `json:"generated_at"`
	Workout     artifact.Workout `json:"workout"`
	Summary     Summary          `json:"summary"`
}

// keypointSample is the first detected skeleton of one whole second.
type keypointSample struct {
	second     int
	confidence float64
	set        pose.LandmarkSet
}

type keypointLog struct {
	mu      sync.Mutex
	start   time.Time
	started bool
	samples []keypointSample
	last    int
}

func (k *keypointLog) add(ts time.Time, set *pose.LandmarkSet) {
	if set == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		k.start, k.started = ts, true
	}
	sec := int(ts.Sub(k.start) / time.Second)
	if len(k.samples) > 0 && sec <= k.last {
		return
	}
	k.last = sec
	k.samples = append(k.samples, keypointSample{second: sec, confidence: meanVisibility(set), set: *set})
}

func (k *keypointLog) snapshot() []keypointSample {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]keypointSample(nil), k.samples...)
}

func meanVisibility(set *pose.LandmarkSet) float64 {
	sum := 0.0
	for _, p := range set.Points {
		if p.Visibility != nil {
			sum += *p.Visibility
		}
	}
	return sum / pose.NumLandmarks
}

func mkSessionDir(outputsRoot string, at time.Time) (string, string, error) {
	ts := at.Format("20060102-150405")
	sid := "session_" + ts
	dir := filepath.Join(outputsRoot, sid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return sid, dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var keypointColumns = []string{
	"second", "person_index", "detection_confidence",
	"keypoint_index", "keypoint_name", "x", "y", "keypoint_confidence",
}

func writeKeypointCSV(path string, samples []keypointSample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(keypointColumns); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, s := range samples {
		for i, p := range s.set.Points {
			conf := 0.0
			if p.Visibility != nil {
				conf = *p.Visibility
			}
			row := []string{
				strconv.Itoa(s.second), "0", ff(s.confidence),
				strconv.Itoa(i), pose.Name(i), ff(p.X), ff(p.Y), ff(conf),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// persist writes summary.json and keypoints_per_second.csv into a fresh
// session directory and returns its path.
func persist(outputsRoot string, bundle PersistBundle, samples []keypointSample) (string, error) {
	_, outDir, err := mkSessionDir(outputsRoot, bundle.GeneratedAt)
	if err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(outDir, "summary.json"), bundle); err != nil {
		return "", err
	}
	if err := writeKeypointCSV(filepath.Join(outDir, "keypoints_per_second.csv"), samples); err != nil {
		return "", err
	}
	return outDir, nil
}
