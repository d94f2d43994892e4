package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"
)

// ImageDevice serves a still image as if it were a camera. It backs
// `faceroll detect --image` and tests.
type ImageDevice struct {
	frame    Frame
	interval time.Duration
}

// NewImageDevice wraps JPEG or PNG data. Non-JPEG input is re-encoded.
func NewImageDevice(data []byte) (*ImageDevice, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if format != "jpeg" {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		data = buf.Bytes()
	}
	b := img.Bounds()
	return &ImageDevice{
		frame:    Frame{Data: data, Width: b.Dx(), Height: b.Dy(), Format: FormatJPEG},
		interval: 33 * time.Millisecond,
	}, nil
}

// NewImageFileDevice reads an image file.
func NewImageFileDevice(path string) (*ImageDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, path)
		}
		return nil, err
	}
	return NewImageDevice(data)
}

// Open returns a stream that repeats the image.
func (d *ImageDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &imageStream{frame: d.frame, interval: d.interval}, nil
}

type imageStream struct {
	mu       sync.Mutex
	frame    Frame
	interval time.Duration
	served   bool
	closed   bool
}

// Read returns the image immediately the first time and paces later reads
// at the stream interval.
func (s *imageStream) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	closed, served := s.closed, s.served
	s.served = true
	s.mu.Unlock()

	if closed {
		return Frame{}, ErrStreamClosed
	}
	if served {
		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	f := s.frame
	f.Timestamp = time.Now()
	return f, nil
}

func (s *imageStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
