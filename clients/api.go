package clients

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/rowlytics/capture-pipeline/artifact"
)

// APIClient is the HTTP artifact sink backed by the web API.
type APIClient struct {
	h   *HTTP
	url string
}

var _ artifact.Sink = (*APIClient)(nil)

func NewAPIClient(h *HTTP, url string) *APIClient {
	return &APIClient{h: h, url: strings.TrimRight(url, "/")}
}

// --- Recordings (/api/recordings) ---

type presignReq struct {
	UserID      string `json:"userId"`
	ContentType string `json:"contentType"`
}

func (a *APIClient) Presign(ctx context.Context, userID, contentType string) (artifact.UploadTarget, error) {
	if contentType == "" {
		contentType = artifact.DefaultContentType
	}
	var out artifact.UploadTarget
	err := a.h.postJSON(ctx, "presign", a.url+"/api/recordings/presign",
		presignReq{UserID: userID, ContentType: contentType}, &out)
	return out, err
}

// Upload PUTs the clip bytes to the presigned destination.
func (a *APIClient) Upload(ctx context.Context, target artifact.UploadTarget, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return a.h.do(req, "upload", nil)
}

func (a *APIClient) SaveRecording(ctx context.Context, rec artifact.Recording) error {
	return a.h.postJSON(ctx, "recordings", a.url+"/api/recordings", rec, nil)
}

// --- Features (/api/landmarks) ---

func (a *APIClient) SaveFeatureFrame(ctx context.Context, rec artifact.FeatureRecord) error {
	return a.h.postJSON(ctx, "landmarks", a.url+"/api/landmarks", rec, nil)
}

// --- Workouts (/api/workouts) ---

func (a *APIClient) SaveWorkout(ctx context.Context, w artifact.Workout) error {
	return a.h.postJSON(ctx, "workouts", a.url+"/api/workouts", w, nil)
}
