// Package dlib implements recognition.Engine with dlib (through go-face) for
// detection, landmarks and descriptors, and OpenCV DNN nets (through gocv) for
// the detector gates and the age, gender and expression estimates.
package dlib

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/faceroll/pkg/acceleration"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"gocv.io/x/gocv"
)

// FaceEngine is the part of go-face's Recognizer the engine uses. The
// single-face variants are avoided because they report nothing at all when
// a frame holds more than one face.
type FaceEngine interface {
	Recognize(img []byte) ([]face.Face, error)
	RecognizeCNN(img []byte) ([]face.Face, error)
	Close()
}

// Engine analyzes one face per frame. dlib and the OpenCV nets are not safe
// for concurrent use, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	rec    FaceEngine
	gates  map[recognition.DetectorKind]faceGate
	attrs  attributeEstimator
	closed bool
}

// New loads every model from dir. DNN nets run on the backend pref selects.
func New(dir string, pref acceleration.Preference) (*Engine, error) {
	log := logging.Component("engine")
	log.Infof("Loading face recognition models from: %s", dir)

	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models: %w", err)
	}

	e := &Engine{rec: rec, gates: make(map[recognition.DetectorKind]faceGate)}

	tiny, err := newDNNGate(dir, pref)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to load tiny detector: %w", err)
	}
	e.gates[recognition.DetectorTiny] = tiny

	cascade, err := newCascadeGate(dir)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to load cascade detector: %w", err)
	}
	e.gates[recognition.DetectorCascade] = cascade

	attrs, err := newAttributeNets(dir, pref)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to load attribute nets: %w", err)
	}
	e.attrs = attrs

	log.Info("Face recognition models loaded successfully")
	return e, nil
}

// Factory returns a recognition.EngineFactory building dlib engines.
func Factory(pref acceleration.Preference) recognition.EngineFactory {
	return func(dir string) (recognition.Engine, error) {
		return New(dir, pref)
	}
}

// DetectSingleFace takes the highest scoring face dlib reports (dlib returns
// detections in descending score order) and computes the requested outputs. Cancellation is only checked before inference starts.
func (e *Engine) DetectSingleFace(ctx context.Context, jpeg []byte, opts recognition.DetectOptions) (*recognition.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, recognition.ErrModelNotLoaded
	}

	kind := opts.Detector
	if kind == "" {
		kind = recognition.DetectorTiny
	}

	var frame gocv.Mat
	if kind != recognition.DetectorSSD || opts.WithAgeGender || opts.WithExpressions {
		var err error
		frame, err = gocv.IMDecode(jpeg, gocv.IMReadColor)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		defer frame.Close()
		if frame.Empty() {
			return nil, errors.New("decoded image is empty")
		}
	}

	score := 1.0
	if kind != recognition.DetectorSSD {
		gate, ok := e.gates[kind]
		if !ok {
			return nil, fmt.Errorf("detector %s not loaded", kind)
		}
		pass, s := gate.Pass(frame, opts.MinConfidence)
		if !pass {
			return nil, nil
		}
		score = s
	}

	var (
		faces []face.Face
		err   error
	)
	if kind == recognition.DetectorSSD {
		faces, err = e.rec.RecognizeCNN(jpeg)
	} else {
		faces, err = e.rec.Recognize(jpeg)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}
	f := &faces[0]

	det := &recognition.Detection{
		Box:   toRectangle(f.Rectangle),
		Score: score,
	}
	if opts.WithLandmarks {
		det.Landmarks = toPoints(f.Shapes)
	}
	if opts.WithDescriptor {
		det.Descriptor = recognition.Descriptor(f.Descriptor)
	}

	if (opts.WithAgeGender || opts.WithExpressions) && e.attrs != nil {
		region := faceRegion(f.Rectangle, frame.Cols(), frame.Rows())
		if !region.Empty() {
			crop := frame.Region(region)
			defer crop.Close()

			if opts.WithAgeGender {
				if det.Age, det.Gender, det.GenderProbability, err = e.attrs.AgeGender(crop); err != nil {
					return nil, fmt.Errorf("age/gender estimation failed: %w", err)
				}
			}
			if opts.WithExpressions {
				if det.Expressions, err = e.attrs.Expressions(crop); err != nil {
					return nil, fmt.Errorf("expression estimation failed: %w", err)
				}
			}
		}
	}

	logging.Component("engine").WithFields(logging.Fields{
		"detector": kind,
		"score":    score,
		"faces":    len(faces),
	}).Debug("face detected")
	return det, nil
}

// Close releases the recognizer and every net.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.rec != nil {
		e.rec.Close()
	}
	for _, g := range e.gates {
		_ = g.Close()
	}
	if e.attrs != nil {
		return e.attrs.Close()
	}
	return nil
}
