package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ContentTypeMJPEG is the media type of clips produced by BufferRecorder.
const ContentTypeMJPEG = "video/x-motion-jpeg"

var (
	// ErrAlreadyRecording is returned by Start while a recording is open.
	ErrAlreadyRecording = errors.New("capture: recorder already recording")
	// ErrNotRecording is returned by Stop when nothing was started.
	ErrNotRecording = errors.New("capture: recorder not recording")
	// ErrClipTooLarge is returned by Stop when the byte limit was hit.
	ErrClipTooLarge = errors.New("capture: clip exceeded size limit")
)

// Recorder encodes frames between Start and Stop. Write is fed every camera
// frame and drops data while no recording is open. Abort ends a recording and
// throws its bytes away.
type Recorder interface {
	Start() error
	Write(p []byte) (int, error)
	Stop(ctx context.Context) ([]byte, error)
	Abort()
	ContentType() string
}

// BufferRecorder keeps the clip in memory as concatenated JPEG frames.
type BufferRecorder struct {
	mu        sync.Mutex
	recording bool
	overflow  bool
	maxBytes  int
	buf       bytes.Buffer
}

// NewBufferRecorder returns a recorder capped at maxBytes; zero means no cap.
func NewBufferRecorder(maxBytes int) *BufferRecorder {
	return &BufferRecorder{maxBytes: maxBytes}
}

func (r *BufferRecorder) ContentType() string { return ContentTypeMJPEG }

func (r *BufferRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	r.buf.Reset()
	r.overflow = false
	r.recording = true
	return nil
}

func (r *BufferRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.overflow {
		return len(p), nil
	}
	if r.maxBytes > 0 && r.buf.Len()+len(p) > r.maxBytes {
		r.overflow = true
		return len(p), nil
	}
	return r.buf.Write(p)
}

func (r *BufferRecorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, ErrNotRecording
	}
	r.recording = false
	if err := ctx.Err(); err != nil {
		r.buf.Reset()
		return nil, err
	}
	if r.overflow {
		r.buf.Reset()
		return nil, ErrClipTooLarge
	}
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	r.buf.Reset()
	return out, nil
}

func (r *BufferRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.overflow = false
	r.buf.Reset()
}

// Recording reports whether a clip is open.
func (r *BufferRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
