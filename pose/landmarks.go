// Package pose holds the body landmark model produced by the pose estimator
// and the framing gate evaluated against it on every frame.
package pose

import (
	"encoding/json"
	"fmt"
)

// Body landmark indices following the MediaPipe BlazePose numbering.
const (
	Nose           = 0
	LeftEyeInner   = 1
	LeftEye        = 2
	LeftEyeOuter   = 3
	RightEyeInner  = 4
	RightEye       = 5
	RightEyeOuter  = 6
	LeftEar        = 7
	RightEar       = 8
	MouthLeft      = 9
	MouthRight     = 10
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftPinky      = 17
	RightPinky     = 18
	LeftIndex      = 19
	RightIndex     = 20
	LeftThumb      = 21
	RightThumb     = 22
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32
	NumLandmarks   = 33
)

var names = [NumLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// Name returns the anatomical name of a landmark index.
func Name(i int) string {
	if i < 0 || i >= NumLandmarks {
		return ""
	}
	return names[i]
}

// Landmark is one detected point in normalized image space. X and Y are in
// [0,1]; Z and Visibility are optional and nil when the detector omitted them.
type Landmark struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          *float64 `json:"z,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// Point builds a landmark with the given visibility and no depth.
func Point(x, y, visibility float64) Landmark {
	v := visibility
	return Landmark{X: x, Y: y, Visibility: &v}
}

// Visible reports whether the landmark carries a visibility of at least min.
// A landmark without visibility is treated as absent.
func (l Landmark) Visible(min float64) bool {
	return l.Visibility != nil && *l.Visibility >= min
}

// LandmarkSet is the full skeleton of one person for one frame.
type LandmarkSet struct {
	Points [NumLandmarks]Landmark
}

// NewLandmarkSet builds a set from a detector payload. It returns nil when the
// payload does not carry exactly NumLandmarks points.
func NewLandmarkSet(points []Landmark) *LandmarkSet {
	if len(points) != NumLandmarks {
		return nil
	}
	var set LandmarkSet
	copy(set.Points[:], points)
	return &set
}

// At returns the landmark at index i.
func (s *LandmarkSet) At(i int) Landmark { return s.Points[i] }

func (s LandmarkSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Points[:])
}

func (s *LandmarkSet) UnmarshalJSON(b []byte) error {
	var pts []Landmark
	if err := json.Unmarshal(b, &pts); err != nil {
		return err
	}
	if len(pts) != NumLandmarks {
		return &CountError{Got: len(pts)}
	}
	copy(s.Points[:], pts)
	return nil
}

// CountError reports a landmark payload with the wrong number of points.
type CountError struct{ Got int }

func (e *CountError) Error() string {
	return fmt.Sprintf("pose: expected %d landmarks, got %d", NumLandmarks, e.Got)
}
