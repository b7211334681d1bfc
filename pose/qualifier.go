package pose

// RequiredForFraming lists the joints that must be inside the frame before a
// capture can be considered: nose, shoulders, hips, knees and ankles.
var RequiredForFraming = [...]int{
	Nose,
	LeftShoulder, RightShoulder,
	LeftHip, RightHip,
	LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

// QualifierOptions tunes the framing gate.
type QualifierOptions struct {
	VisibilityThreshold float64
	EdgeMargin          float64
}

// DefaultQualifierOptions returns the production gate: visibility 0.6 and a
// 5% inset from every edge.
func DefaultQualifierOptions() QualifierOptions {
	return QualifierOptions{VisibilityThreshold: 0.6, EdgeMargin: 0.05}
}

// IsFullyFramed reports whether every required joint is visible and inside the
// inset frame. A nil set (nobody detected) is never framed.
func IsFullyFramed(set *LandmarkSet, opts QualifierOptions) bool {
	if set == nil {
		return false
	}
	lo, hi := opts.EdgeMargin, 1-opts.EdgeMargin
	for _, idx := range RequiredForFraming {
		lm := set.Points[idx]
		if !lm.Visible(opts.VisibilityThreshold) {
			return false
		}
		if lm.X < lo || lm.X > hi || lm.Y < lo || lm.Y > hi {
			return false
		}
	}
	return true
}
