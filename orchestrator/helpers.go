package orchestrator

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rowlytics/capture-pipeline/features"
)

// AngleStat summarizes one numeric feature over a session.
type AngleStat struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	sum  float64
}

func (a *AngleStat) add(v float64) {
	if a.N == 0 || v < a.Min {
		a.Min = v
	}
	if a.N == 0 || v > a.Max {
		a.Max = v
	}
	a.N++
	a.sum += v
	a.Mean = a.sum / float64(a.N)
}

// Summary aggregates one session for the workout record and the session
// bundle.
type Summary struct {
	Frames          int                  `json:"frames"`
	Duplicates      int                  `json:"duplicates_skipped"`
	BadFrames       int                  `json:"bad_frames_skipped"`
	Framed          int                  `json:"framed"`
	DetectFailures  int                  `json:"detect_failures"`
	ClipsStarted    int                  `json:"clips_started"`
	ClipsFinished   int                  `json:"clips_finished"`
	ClipsCancelled  int                  `json:"clips_cancelled"`
	ClipsUploaded   int                  `json:"clips_uploaded"`
	BackgroundFails int                  `json:"background_failures"`
	Angles          map[string]AngleStat `json:"angles"`
}

// FramedRatio is the share of processed frames that passed the qualifier.
func (s Summary) FramedRatio() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Framed) / float64(s.Frames)
}

// Text renders the one-paragraph workout summary.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d frames, %.0f%% framed, %d clips captured", s.Frames, 100*s.FramedRatio(), s.ClipsFinished)
	if s.ClipsCancelled > 0 {
		fmt.Fprintf(&b, " (%d cancelled)", s.ClipsCancelled)
	}
	for _, name := range features.DerivedNames() {
		a, ok := s.Angles[name]
		if !ok || a.N == 0 {
			continue
		}
		fmt.Fprintf(&b, ", mean %s %.1f", name, a.Mean)
	}
	return b.String()
}

type stats struct {
	mu sync.Mutex
	s  Summary
}

func newStats() *stats {
	return &stats{s: Summary{Angles: map[string]AngleStat{}}}
}

// observe records one processed frame and folds its numeric features in.
func (st *stats) observe(framed bool, f features.Frame) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Frames++
	if framed {
		st.s.Framed++
	}
	for i, name := range f.Header {
		v := f.Data[i]
		if !v.IsNumber() || math.IsNaN(v.N) {
			continue
		}
		a := st.s.Angles[name]
		a.add(v.N)
		st.s.Angles[name] = a
	}
}

func (st *stats) update(fn func(*Summary)) {
	st.mu.Lock()
	fn(&st.s)
	st.mu.Unlock()
}

func (st *stats) snapshot() Summary {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.s
	out.Angles = make(map[string]AngleStat, len(st.s.Angles))
	for k, v := range st.s.Angles {
		out.Angles[k] = v
	}
	return out
}
