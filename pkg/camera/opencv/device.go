// Package opencv implements camera.Device on top of OpenCV video capture.
package opencv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"gocv.io/x/gocv"
)

// Device is a V4L2 (or any OpenCV-supported) capture device, given either as
// a device node such as "/dev/video0" or as a numeric index.
type Device struct {
	Path string
}

// New creates a device for path.
func New(path string) *Device {
	return &Device{Path: path}
}

// Open starts capturing. Width, height and fps are only requested when set.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkNode(d.Path); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camera.ErrCameraNotFound, d.Path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("%w: %s", camera.ErrCameraNotFound, d.Path)
	}

	if c.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(c.FPS))
	}

	logging.Component("camera").WithFields(logging.Fields{
		"device": d.Path,
		"width":  capture.Get(gocv.VideoCaptureFrameWidth),
		"height": capture.Get(gocv.VideoCaptureFrameHeight),
	}).Info("camera opened")

	return &stream{capture: capture, mat: gocv.NewMat()}, nil
}

// checkNode maps device node problems to camera errors before OpenCV hides
// them behind a generic open failure.
func checkNode(path string) error {
	if !strings.HasPrefix(path, "/dev/") {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		return f.Close()
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", camera.ErrCameraNotFound, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s", camera.ErrPermissionDenied, path)
	default:
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
}

type stream struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	closed  bool
}

// Read grabs the next frame and encodes it as JPEG. The underlying read
// blocks at the device frame rate and cannot be interrupted.
func (s *stream) Read(ctx context.Context) (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return camera.Frame{}, camera.ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}

	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return camera.Frame{}, camera.ErrNoFrame
	}

	buf, err := gocv.IMEncode(".jpg", s.mat)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return camera.Frame{
		Data:      data,
		Width:     s.mat.Cols(),
		Height:    s.mat.Rows(),
		Format:    camera.FormatJPEG,
		Timestamp: time.Now(),
	}, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.mat.Close()
	return s.capture.Close()
}
