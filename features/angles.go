package features

import (
	"math"

	"github.com/rowlytics/capture-pipeline/pose"
)

type vec struct{ x, y float64 }

func sub(a, b pose.Landmark) vec { return vec{a.X - b.X, a.Y - b.Y} }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// normalizeDegrees folds an angle into (-180, 180].
func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// torsoAngle is the arctangent difference between the shoulder line and the
// hip line, both taken left to right.
func torsoAngle(ls, rs, lh, rh pose.Landmark) float64 {
	shoulders := sub(rs, ls)
	hips := sub(rh, lh)
	return normalizeDegrees(degrees(math.Atan2(shoulders.y, shoulders.x) - math.Atan2(hips.y, hips.x)))
}

// chestAngle is the inclination of the hip->shoulder segment, folded into
// [0, 180) degrees.
func chestAngle(shoulder, hip pose.Landmark) float64 {
	a := math.Atan((hip.Y - shoulder.Y) / (shoulder.X - hip.X))
	if a < 0 {
		a += math.Pi
	}
	return degrees(a)
}

// legacySide is the limb "length" used by the browser capture client: the sum
// of absolute coordinate differences, not the Euclidean norm. Feeding it to
// the law of cosines is geometrically inconsistent and likely unintended; the
// *_true features carry the Euclidean form.
func legacySide(a, b pose.Landmark) float64 {
	d := sub(a, b)
	return math.Abs(d.x) + math.Abs(d.y)
}

// legacyJointAngle applies the law of cosines to legacy sides. Out-of-range
// ratios produce NaN, which the caller reports as unavailable.
func legacyJointAngle(proximal, joint, distal pose.Landmark) float64 {
	a := legacySide(proximal, joint)
	b := legacySide(joint, distal)
	c := legacySide(proximal, distal)
	return degrees(math.Acos((a*a + b*b - c*c) / (2 * a * b)))
}

// jointAngle is the interior angle at joint from true Euclidean distances,
// with y flipped to a bottom-left origin.
func jointAngle(proximal, joint, distal pose.Landmark) float64 {
	dist := func(p, q pose.Landmark) float64 {
		return math.Hypot(p.X-q.X, (1-p.Y)-(1-q.Y))
	}
	a := dist(proximal, joint)
	b := dist(joint, distal)
	c := dist(proximal, distal)
	if a == 0 || b == 0 {
		return math.NaN()
	}
	ratio := (a*a + b*b - c*c) / (2 * a * b)
	return degrees(math.Acos(math.Max(-1, math.Min(1, ratio))))
}
