// Package capture decides when a clip should be recorded and owns the
// lifecycle of that recording.
package capture

import "time"

// DwellTimer accumulates how long the framing gate has held continuously.
// Observations arrive at irregular intervals, one per processed frame.
type DwellTimer struct {
	accumulated time.Duration
	last        time.Time
	started     bool
}

// Observe folds one frame into the accumulator and returns the new total.
func (d *DwellTimer) Observe(framed bool, ts time.Time) time.Duration {
	if !d.started {
		d.started = true
		d.last = ts
		d.accumulated = 0
		return 0
	}
	delta := ts.Sub(d.last)
	if delta < 0 {
		delta = 0
	}
	d.last = ts
	if framed {
		d.accumulated += delta
	} else {
		d.accumulated = 0
	}
	return d.accumulated
}

// Accumulated returns the current dwell time.
func (d *DwellTimer) Accumulated() time.Duration { return d.accumulated }

// Clear zeroes the accumulator but keeps the last timestamp, so the next frame
// measures its delta from the frame that triggered.
func (d *DwellTimer) Clear() { d.accumulated = 0 }

// Reset forgets everything; the next observation starts a new run.
func (d *DwellTimer) Reset() {
	d.accumulated = 0
	d.last = time.Time{}
	d.started = false
}
