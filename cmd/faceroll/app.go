package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/acceleration"
	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/camera/opencv"
	"github.com/MrCodeEU/faceroll/pkg/config"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/MrCodeEU/faceroll/pkg/recognition/dlib"
	"github.com/MrCodeEU/faceroll/pkg/roster"
	"github.com/MrCodeEU/faceroll/pkg/session"
)

// accelerationManager detects backends and picks the configured one.
func accelerationManager(c *config.Config) *acceleration.Manager {
	mgr := acceleration.NewManager()
	accelCfg := acceleration.DefaultConfig()
	if b, err := acceleration.ParseBackend(c.Detection.Acceleration); err == nil {
		accelCfg.PreferredBackend = b
	}
	if err := mgr.Initialize(accelCfg); err != nil {
		logging.Component("acceleration").WithError(err).Warn("Using CPU")
	}
	return mgr
}

// newModelSet builds the process-wide model set backed by the dlib engine.
func newModelSet(c *config.Config) *recognition.ModelSet {
	pref := accelerationManager(c).Preference()
	return recognition.NewModelSet(dlib.Factory(pref), c.Models.CacheDir)
}

func newRepository(c *config.Config) models.Repository {
	return models.NewRepository(c.Models.BaseURL, c.Models.Dir)
}

// sessionOptions maps the configuration onto session options.
func sessionOptions(c *config.Config) (session.Options, error) {
	kind, err := recognition.ParseDetectorKind(c.Detection.Detector)
	if err != nil {
		return session.Options{}, err
	}

	opts := session.DefaultOptions()
	opts.Detect.Detector = kind
	opts.Detect.MinConfidence = c.Detection.MinConfidence
	opts.Detect.WithAgeGender = c.Detection.AgeGender
	opts.Detect.WithExpressions = c.Detection.Expressions
	opts.Constraints.Width = c.Camera.Width
	opts.Constraints.Height = c.Camera.Height
	opts.Constraints.FPS = c.Camera.FPS
	opts.Matcher = []matcher.Option{
		matcher.WithThreshold(c.Matcher.Threshold),
		matcher.WithIndexMinSize(c.Matcher.IndexMinSize),
	}
	return opts, nil
}

// deviceFor returns a still image device when imagePath is set, else the camera.
func deviceFor(c *config.Config, imagePath string) (camera.Device, error) {
	if imagePath != "" {
		return camera.NewImageFileDevice(imagePath)
	}
	return opencv.New(c.Camera.Device), nil
}

func openStore(c *config.Config) (*roster.Store, error) {
	return roster.NewStore(c.Roster.DataDir, c.Roster.EncryptionEnabled)
}

// liveSession is a session with models loaded and the camera playing.
type liveSession struct {
	*session.Session
	models  *recognition.ModelSet
	surface *camera.Surface
}

func (l *liveSession) Close() {
	if err := l.StopCamera(); err != nil {
		logging.WithError(err).Warn("Failed to stop camera")
	}
	l.surface.Release()
	if err := l.models.Close(); err != nil {
		logging.WithError(err).Warn("Failed to release models")
	}
}

// startSession runs the whole bring-up: models, surface, camera.
func startSession(ctx context.Context, c *config.Config, imagePath string) (*liveSession, error) {
	opts, err := sessionOptions(c)
	if err != nil {
		return nil, err
	}
	device, err := deviceFor(c, imagePath)
	if err != nil {
		return nil, err
	}

	ms := newModelSet(c)
	sess := session.New(ms, newRepository(c), device, opts)
	surface := camera.NewSurface()
	sess.AttachVideo(surface)

	if err := sess.LoadModels(ctx); err != nil {
		surface.Release()
		return nil, fmt.Errorf("%w (run 'faceroll models download' first?)", err)
	}
	if err := sess.StartCamera(ctx); err != nil {
		surface.Release()
		_ = ms.Close()
		return nil, err
	}
	return &liveSession{Session: sess, models: ms, surface: surface}, nil
}

// waitForFace polls the session for a face within the configured timeout.
func waitForFace(ctx context.Context, c *config.Config, s *liveSession) (*recognition.Detection, error) {
	timeout := time.Duration(c.Detection.DetectTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.WaitForFace(ctx, time.Duration(c.Detection.PollIntervalMS)*time.Millisecond)
}
