package clients

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rowlytics/capture-pipeline/pose"
)

// --- Pose estimation (/detect) ---

// Detection is the detector's reply. Each entry holds exactly 33 landmarks.
type Detection struct {
	LandmarksPerPerson []pose.LandmarkSet `json:"landmarks"`
}

// First returns the first person's landmarks, or nil when nobody was found.
func (d *Detection) First() *pose.LandmarkSet {
	if d == nil || len(d.LandmarksPerPerson) == 0 {
		return nil
	}
	return &d.LandmarksPerPerson[0]
}

// PoseClient talks to the landmark detection service.
type PoseClient struct {
	h   *HTTP
	url string
}

func NewPoseClient(h *HTTP, url string) *PoseClient {
	return &PoseClient{h: h, url: strings.TrimRight(url, "/")}
}

// Detect uploads one encoded frame. tsMs is the frame's presentation time;
// the service uses it to keep its tracker monotonic.
func (p *PoseClient) Detect(ctx context.Context, frame []byte, tsMs int64) (*Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(frame); err != nil {
		return nil, err
	}
	if err = w.WriteField("timestamp_ms", strconv.FormatInt(tsMs, 10)); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out Detection
	if err := p.h.do(req, "pose", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether the model is loaded and serving.
func (p *PoseClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/health", nil)
	if err != nil {
		return err
	}
	return p.h.do(req, "pose health", nil)
}
