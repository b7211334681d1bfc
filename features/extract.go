package features

import (
	"fmt"

	"github.com/rowlytics/capture-pipeline/pose"
)

// Derived feature names, in header order after the landmark entries.
const (
	TorsoAngle     = "torso_angle"
	KneeAngle      = "knee_angle"
	ElbowAngle     = "elbow_angle"
	ChestAngle     = "chest_angle"
	KneeAngleTrue  = "knee_angle_true"
	ElbowAngleTrue = "elbow_angle_true"
)

var derivedNames = []string{TorsoAngle, KneeAngle, ElbowAngle, ChestAngle, KneeAngleTrue, ElbowAngleTrue}

// DerivedNames lists the angle features in header order.
func DerivedNames() []string { return append([]string(nil), derivedNames...) }

// LandmarkName is the header entry for landmark slot i.
func LandmarkName(i int) string { return fmt.Sprintf("landmark_%d", i) }

// Header returns the fixed schema every extracted frame follows.
func Header() []string {
	h := make([]string, 0, pose.NumLandmarks+len(derivedNames))
	for i := 0; i < pose.NumLandmarks; i++ {
		h = append(h, LandmarkName(i))
	}
	return append(h, derivedNames...)
}

// Options tunes extraction.
type Options struct {
	VisibilityThreshold float64
}

// DefaultOptions uses the 0.3 visibility floor.
func DefaultOptions() Options { return Options{VisibilityThreshold: 0.3} }

type side struct {
	shoulder, elbow, wrist, thumb, hip, knee, ankle int
}

var (
	leftSide  = side{pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist, pose.LeftThumb, pose.LeftHip, pose.LeftKnee, pose.LeftAnkle}
	rightSide = side{pose.RightShoulder, pose.RightElbow, pose.RightWrist, pose.RightThumb, pose.RightHip, pose.RightKnee, pose.RightAnkle}
)

// facing picks the side turned toward the camera: right when the right knee
// sits ahead of the right hip, left otherwise.
func facing(set *pose.LandmarkSet) side {
	if set.Points[pose.RightKnee].X > set.Points[pose.RightHip].X {
		return rightSide
	}
	return leftSide
}

// Extract computes the feature frame for one landmark set. A nil set yields a
// frame of unavailable values with the same header.
func Extract(set *pose.LandmarkSet, vp Viewport, opts Options) Frame {
	f := Frame{
		Header: make([]string, 0, pose.NumLandmarks+len(derivedNames)),
		Data:   make([]Value, 0, pose.NumLandmarks+len(derivedNames)),
	}
	present := func(idx ...int) bool {
		if set == nil {
			return false
		}
		for _, i := range idx {
			if !set.Points[i].Visible(opts.VisibilityThreshold) {
				return false
			}
		}
		return true
	}

	for i := 0; i < pose.NumLandmarks; i++ {
		if !present(i) {
			f.add(LandmarkName(i), NA)
			continue
		}
		x, y := vp.Project(set.Points[i])
		f.add(LandmarkName(i), Position(x, y))
	}

	if set == nil {
		for _, name := range derivedNames {
			f.add(name, NA)
		}
		return f
	}
	p := set.Points
	s := facing(set)

	derived := func(name string, compute func() float64, idx ...int) {
		if !present(idx...) {
			f.add(name, NA)
			return
		}
		f.add(name, Number(compute()))
	}
	derived(TorsoAngle, func() float64 {
		return torsoAngle(p[pose.LeftShoulder], p[pose.RightShoulder], p[pose.LeftHip], p[pose.RightHip])
	}, pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip)
	derived(KneeAngle, func() float64 {
		return legacyJointAngle(p[s.hip], p[s.knee], p[s.ankle])
	}, s.hip, s.knee, s.ankle)
	derived(ElbowAngle, func() float64 {
		return legacyJointAngle(p[s.shoulder], p[s.elbow], p[s.wrist])
	}, s.shoulder, s.elbow, s.wrist)
	derived(ChestAngle, func() float64 {
		return chestAngle(p[s.shoulder], p[s.hip])
	}, s.shoulder, s.hip)
	derived(KneeAngleTrue, func() float64 {
		return jointAngle(p[s.hip], p[s.knee], p[s.ankle])
	}, s.hip, s.knee, s.ankle)
	derived(ElbowAngleTrue, func() float64 {
		return jointAngle(p[s.shoulder], p[s.elbow], p[s.thumb])
	}, s.shoulder, s.elbow, s.thumb)
	return f
}
