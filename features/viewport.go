package features

import "github.com/rowlytics/capture-pipeline/pose"

// Viewport maps normalized landmark coordinates into the pixel space of the
// display the video is drawn on, including letterbox offsets.
type Viewport struct {
	VideoWidth  float64
	VideoHeight float64
	Scale       float64
	OffsetX     float64
	OffsetY     float64
}

// Fit computes the aspect-fit placement of a video inside a display area.
// Degenerate sizes fall back to an identity mapping onto the video itself.
func Fit(videoW, videoH, displayW, displayH int) Viewport {
	if videoW <= 0 || videoH <= 0 {
		return Viewport{VideoWidth: 1, VideoHeight: 1, Scale: 1}
	}
	vw, vh := float64(videoW), float64(videoH)
	if displayW <= 0 || displayH <= 0 {
		return Viewport{VideoWidth: vw, VideoHeight: vh, Scale: 1}
	}
	dw, dh := float64(displayW), float64(displayH)
	scale := min(dw/vw, dh/vh)
	return Viewport{
		VideoWidth:  vw,
		VideoHeight: vh,
		Scale:       scale,
		OffsetX:     (dw - vw*scale) / 2,
		OffsetY:     (dh - vh*scale) / 2,
	}
}

// Project returns the display-pixel position of a landmark.
func (v Viewport) Project(lm pose.Landmark) (float64, float64) {
	return v.OffsetX + lm.X*v.VideoWidth*v.Scale, v.OffsetY + lm.Y*v.VideoHeight*v.Scale
}
