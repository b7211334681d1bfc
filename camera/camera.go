// Package camera defines the frame source the capture session reads from and
// the exclusive ownership of a camera device.
//
// A Stream is owned by exactly one session. Opening a stream takes a lock on
// the device; closing the stream releases it. Close is idempotent and makes a
// blocked Next return ErrClosed.
package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("camera: stream closed")
	// ErrLocked means another session owns the device.
	ErrLocked = errors.New("camera: device in use")
	// ErrNoDevice means the device does not exist or cannot be read.
	ErrNoDevice = errors.New("camera: device unavailable")
	// ErrBadFrame marks a single unreadable frame. The stream has moved past
	// it and the next call to Next may succeed.
	ErrBadFrame = errors.New("camera: bad frame")
)

// Frame is one decoded video frame.
type Frame struct {
	// Seq is the monotonic sequence number within the stream.
	Seq uint64
	// Timestamp is the presentation time of the frame. Two frames with the
	// same timestamp carry the same picture.
	Timestamp time.Time
	Width     int
	Height    int
	// Data holds the encoded frame (JPEG).
	Data []byte
}

// Stream yields frames until closed or exhausted (io.EOF).
type Stream interface {
	Next(ctx context.Context) (Frame, error)
	Device() string
	Close() error
}

// Opener acquires a stream for a device.
type Opener interface {
	Open(ctx context.Context, device string) (Stream, error)
}
