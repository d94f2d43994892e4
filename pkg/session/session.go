// Package session sequences face recognition work for one consumer: load
// models, start the camera, detect faces on the current frame and build
// matchers from rosters.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the WaitForFace interval used when none is given.
const DefaultPollInterval = 200 * time.Millisecond

// Options configures a session.
type Options struct {
	Detect      recognition.DetectOptions
	Constraints camera.Constraints
	Matcher     []matcher.Option
}

// DefaultOptions requests a video-only stream with device defaults and runs
// the fastest detector with every output.
func DefaultOptions() Options {
	return Options{
		Detect:      recognition.DefaultDetectOptions(),
		Constraints: camera.VideoOnly(),
	}
}

// Session is the per-consumer face recognition workflow. The model set is
// shared; the surface is borrowed from whoever attached it.
type Session struct {
	models *recognition.ModelSet
	repo   models.Repository
	device camera.Device
	opts   Options
	log    *logrus.Entry

	mu      sync.Mutex
	state   State
	surface *camera.Surface

	// detectMu serializes detections on this session.
	detectMu sync.Mutex
}

// New creates an unconfigured session.
func New(modelSet *recognition.ModelSet, repo models.Repository, device camera.Device, opts Options) *Session {
	if opts.Detect.Detector == "" {
		opts.Detect = recognition.DefaultDetectOptions()
	}
	if !opts.Constraints.Video {
		opts.Constraints.Video = true
	}
	s := &Session{
		models: modelSet,
		repo:   repo,
		device: device,
		opts:   opts,
		log:    logging.Component("session"),
	}
	if modelSet.Ready() {
		s.state = ModelsReady
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Surface returns the attached surface, which may be nil.
func (s *Session) Surface() *camera.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AttachVideo points the session at surface, replacing any surface attached
// before. The session does not own the surface.
func (s *Session) AttachVideo(surface *camera.Surface) {
	s.mu.Lock()
	s.surface = surface
	s.mu.Unlock()
}

// LoadModels loads the shared model set from the session's repository. A
// failed load leaves the session unconfigured and can be retried. Reloading
// under a running camera keeps the camera ready.
func (s *Session) LoadModels(ctx context.Context) error {
	s.mu.Lock()
	if s.state.modelsLoaded() && s.models.Ready() {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = ModelsLoading
	s.mu.Unlock()

	if err := s.models.Load(ctx, s.repo); err != nil {
		s.setState(Unconfigured)
		return err
	}

	if prev == CameraReady {
		s.setState(CameraReady)
		return nil
	}
	s.setState(ModelsReady)
	return nil
}

// StartCamera opens a stream, binds it to the attached surface and waits for
// playback to start. Without a usable surface it logs and returns nil.
func (s *Session) StartCamera(ctx context.Context) error {
	s.mu.Lock()
	surface := s.surface
	if !surface.Attached() {
		s.mu.Unlock()
		s.log.Error("cannot start camera: no video surface attached")
		return nil
	}
	if s.state != ModelsReady && s.state != CameraReady {
		st := s.state
		s.mu.Unlock()
		return &StateError{Op: "start camera", State: st}
	}
	s.state = CameraStarting
	s.mu.Unlock()

	if err := s.startCamera(ctx, surface); err != nil {
		s.setState(ModelsReady)
		return err
	}

	s.setState(CameraReady)
	s.log.Info("Camera started")
	return nil
}

func (s *Session) startCamera(ctx context.Context, surface *camera.Surface) error {
	stream, err := s.device.Open(ctx, s.opts.Constraints)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}

	if err := surface.Bind(stream); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to bind stream: %w", err)
	}

	if err := surface.Play(ctx); err != nil {
		if uerr := surface.Unbind(); uerr != nil {
			s.log.WithError(uerr).Warn("closing stream after failed playback")
		}
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// StopCamera stops playback and closes the stream bound to the attached
// surface. The session returns to ModelsReady.
func (s *Session) StopCamera() error {
	s.mu.Lock()
	surface := s.surface
	if s.state == CameraReady {
		s.state = ModelsReady
	}
	s.mu.Unlock()

	if !surface.Attached() {
		return nil
	}
	return surface.Unbind()
}

// GetFaceDescriptor returns the descriptor of the face on the attached
// surface's current frame. It returns nil, nil when there is no surface, no
// frame yet or no face.
func (s *Session) GetFaceDescriptor(ctx context.Context) (*recognition.Descriptor, error) {
	return s.DescriptorFrom(ctx, s.Surface())
}

// DetectFace is GetFaceDescriptor returning the whole detection.
func (s *Session) DetectFace(ctx context.Context) (*recognition.Detection, error) {
	return s.DetectFaceOn(ctx, s.Surface())
}

// DescriptorFrom runs detection on surface instead of the attached one.
func (s *Session) DescriptorFrom(ctx context.Context, surface *camera.Surface) (*recognition.Descriptor, error) {
	det, err := s.DetectFaceOn(ctx, surface)
	if err != nil || det == nil {
		return nil, err
	}
	d := det.Descriptor
	return &d, nil
}

// DetectFaceOn runs detection on surface's current frame. The session must
// be CameraReady.
func (s *Session) DetectFaceOn(ctx context.Context, surface *camera.Surface) (*recognition.Detection, error) {
	if !surface.Attached() {
		return nil, nil
	}

	if st := s.State(); st != CameraReady {
		return nil, &StateError{Op: "detect face", State: st}
	}

	frame, ok := surface.CurrentFrame()
	if !ok {
		return nil, nil
	}

	engine, err := s.models.Engine()
	if err != nil {
		return nil, err
	}

	s.detectMu.Lock()
	det, err := engine.DetectSingleFace(ctx, frame.Data, s.opts.Detect)
	s.detectMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if det == nil {
		s.log.Debug("No face in frame")
		return nil, nil
	}

	s.log.WithFields(logging.Fields{
		"score": det.Score,
		"box":   fmt.Sprintf("%dx%d@%d,%d", det.Box.Width, det.Box.Height, det.Box.X, det.Box.Y),
	}).Debug("Face detected")
	return det, nil
}

// WaitForFace polls DetectFace every interval until a face shows up or ctx
// ends. Detection errors other than state errors are logged and retried.
// A non-positive interval uses DefaultPollInterval.
func (s *Session) WaitForFace(ctx context.Context, interval time.Duration) (*recognition.Detection, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		det, err := s.DetectFace(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			var se *StateError
			if errors.As(err, &se) {
				return nil, err
			}
			s.log.WithError(err).Warnf("Detection attempt %d failed", attempt)
		case det != nil:
			return det, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrNoFace, attempt, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CreateFaceMatcher builds a matcher with one entry per roster record. The
// roster is not retained.
func (s *Session) CreateFaceMatcher(roster []matcher.PersonRecord) (*matcher.FaceMatcher, error) {
	m, err := matcher.FromRoster(roster, s.opts.Matcher...)
	if err != nil {
		return nil, fmt.Errorf("failed to build matcher: %w", err)
	}
	s.log.WithField("entries", m.Len()).Debug("Matcher built")
	return m, nil
}
