package camera

import (
	"context"
	"sync/atomic"
	"time"
)

type MockStream struct {
	ReadFunc  func(ctx context.Context) (Frame, error)
	CloseFunc func() error
	closed    int32
}

func (m *MockStream) Read(ctx context.Context) (Frame, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx)
	}
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (m *MockStream) Close() error {
	atomic.AddInt32(&m.closed, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockStream) Closed() bool {
	return atomic.LoadInt32(&m.closed) > 0
}

// frameStream returns a stream that yields data forever.
func frameStream(data []byte) *MockStream {
	return &MockStream{
		ReadFunc: func(ctx context.Context) (Frame, error) {
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return Frame{}, ctx.Err()
			}
			return Frame{Data: data, Width: 2, Height: 2, Format: FormatJPEG}, nil
		},
	}
}
