package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/logging"
)

// ErrSurfaceReleased is returned when binding to a released surface.
var ErrSurfaceReleased = errors.New("video surface released")

// ErrNoStream is returned when playing a surface with nothing bound.
var ErrNoStream = errors.New("no stream bound to surface")

// retryDelay is how long the pump waits after a stream reports ErrNoFrame.
const retryDelay = 20 * time.Millisecond

// Surface is the sink a capture stream plays into. It holds at most one
// stream and the latest decoded frame. A pump goroutine is the only writer of
// the frame; readers get a copy.
//
// The surface is owned by whoever created it (the CLI or the server); sessions
// only hold a reference. A released surface counts as unattached.
type Surface struct {
	mu       sync.RWMutex
	stream   Stream
	frame    Frame
	hasFrame bool
	playing  bool
	released bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSurface creates an empty surface.
func NewSurface() *Surface {
	return &Surface{}
}

// Attached reports whether the surface is still usable.
func (s *Surface) Attached() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.released
}

// Bound reports whether a stream is bound.
func (s *Surface) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream != nil
}

// Playing reports whether the pump is running.
func (s *Surface) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// Bind attaches stream to the surface, closing any stream bound before.
func (s *Surface) Bind(stream Stream) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrSurfaceReleased
	}
	s.mu.Unlock()

	if err := s.Unbind(); err != nil {
		logging.Component("camera").WithError(err).Warn("closing previous stream failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrSurfaceReleased
	}
	s.stream = stream
	return nil
}

// Play starts the pump and waits for the first frame. Cancelling ctx aborts
// the wait and stops playback. Playing an already playing surface is a no-op.
func (s *Surface) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrSurfaceReleased
	}
	if s.stream == nil {
		s.mu.Unlock()
		return ErrNoStream
	}
	if s.playing {
		s.mu.Unlock()
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.playing = true
	go s.pump(pumpCtx, s.stream, first, done)
	s.mu.Unlock()

	select {
	case err := <-first:
		if err != nil {
			s.stop()
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}
}

func (s *Surface) pump(ctx context.Context, stream Stream, first chan<- error, done chan<- struct{}) {
	defer close(done)
	log := logging.Component("camera")
	signaled := false

	for {
		frame, err := stream.Read(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrNoFrame) {
				select {
				case <-time.After(retryDelay):
					continue
				case <-ctx.Done():
					return
				}
			}
			log.WithError(err).Warn("camera stream stopped")
			s.mu.Lock()
			s.playing = false
			s.mu.Unlock()
			if !signaled {
				first <- err
			}
			return
		}

		s.mu.Lock()
		s.frame = frame
		s.hasFrame = true
		s.mu.Unlock()

		if !signaled {
			signaled = true
			first <- nil
		}
	}
}

// stop cancels the pump and waits for it to exit.
func (s *Surface) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.playing = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CurrentFrame returns the latest frame, if any.
func (s *Surface) CurrentFrame() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released || !s.hasFrame {
		return Frame{}, false
	}
	return s.frame, true
}

// Unbind stops playback and closes the bound stream.
func (s *Surface) Unbind() error {
	s.stop()

	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.frame = Frame{}
	s.hasFrame = false
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}

// Release unbinds and marks the surface unusable.
func (s *Surface) Release() {
	if err := s.Unbind(); err != nil {
		logging.Component("camera").WithError(err).Warn("closing stream on release failed")
	}
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}
