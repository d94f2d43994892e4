package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
)

type MockEngine struct {
	DetectFunc func(ctx context.Context, jpeg []byte, opts recognition.DetectOptions) (*recognition.Detection, error)
	calls      int32
}

func (m *MockEngine) DetectSingleFace(ctx context.Context, jpeg []byte, opts recognition.DetectOptions) (*recognition.Detection, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg, opts)
	}
	return nil, nil
}

func (m *MockEngine) Close() error {
	return nil
}

func (m *MockEngine) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

type MockDevice struct {
	OpenFunc func(ctx context.Context, c camera.Constraints) (camera.Stream, error)

	mu     sync.Mutex
	opened []camera.Constraints
}

func (m *MockDevice) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	m.mu.Lock()
	m.opened = append(m.opened, c)
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, c)
	}
	return &MockStream{}, nil
}

func (m *MockDevice) Opened() []camera.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]camera.Constraints(nil), m.opened...)
}

// MockStream yields the same frame every millisecond.
type MockStream struct {
	closed int32
}

func (m *MockStream) Read(ctx context.Context) (camera.Frame, error) {
	if atomic.LoadInt32(&m.closed) > 0 {
		return camera.Frame{}, camera.ErrStreamClosed
	}
	select {
	case <-time.After(time.Millisecond):
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	}
	return camera.Frame{Data: []byte{0xff, 0xd8, 0xff}, Width: 2, Height: 2, Format: camera.FormatJPEG, Timestamp: time.Now()}, nil
}

func (m *MockStream) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

func (m *MockStream) Closed() bool {
	return atomic.LoadInt32(&m.closed) > 0
}

// failingRepo serves from inner and fails the Nth open (0-based).
type failingRepo struct {
	inner  models.Repository
	failAt int32
	opens  int32
	err    error
}

func (r *failingRepo) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	n := atomic.AddInt32(&r.opens, 1) - 1
	if n == r.failAt {
		return nil, &models.FetchError{File: name, Source: "test", Err: r.err}
	}
	return r.inner.Open(ctx, name)
}
