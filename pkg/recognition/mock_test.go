package recognition

import (
	"context"
	"sync/atomic"
)

type MockEngine struct {
	DetectFunc func(ctx context.Context, jpeg []byte, opts DetectOptions) (*Detection, error)
	CloseFunc  func() error
	closed     int32
}

func (m *MockEngine) DetectSingleFace(ctx context.Context, jpeg []byte, opts DetectOptions) (*Detection, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg, opts)
	}
	return nil, nil
}

func (m *MockEngine) Close() error {
	atomic.AddInt32(&m.closed, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
