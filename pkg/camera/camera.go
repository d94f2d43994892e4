// Package camera provides video capture devices and the Surface a capture
// stream is bound to for playback.
package camera

import (
	"context"
	"errors"
	"time"
)

// FormatJPEG is the only frame encoding produced by faceroll devices.
const FormatJPEG = "JPEG"

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string
	Timestamp time.Time
}

// Constraints describes a capture request. Zero Width, Height or FPS keeps
// the device default.
type Constraints struct {
	Video  bool
	Audio  bool
	Width  int
	Height int
	FPS    int
}

// VideoOnly is the capture request used by sessions: video track, no audio,
// device defaults.
func VideoOnly() Constraints {
	return Constraints{Video: true}
}

// Validate rejects requests no faceroll device can serve.
func (c Constraints) Validate() error {
	if c.Audio {
		return ErrAudioUnsupported
	}
	if !c.Video {
		return ErrNoVideoTrack
	}
	if c.Width < 0 || c.Height < 0 || c.FPS < 0 {
		return errors.New("camera constraints must not be negative")
	}
	return nil
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream yields frames until closed. Read blocks until a frame is available.
type Stream interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrPermissionDenied is returned when the process may not open the device.
var ErrPermissionDenied = errors.New("camera access denied")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrStreamClosed is returned when reading from a closed stream.
var ErrStreamClosed = errors.New("camera stream closed")

// ErrAudioUnsupported is returned for capture requests that ask for audio.
var ErrAudioUnsupported = errors.New("audio capture is not supported")

// ErrNoVideoTrack is returned for capture requests without video.
var ErrNoVideoTrack = errors.New("capture request has no video track")
