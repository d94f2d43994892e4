// Package recognition defines the face analysis contract faceroll sessions run
// against and owns the process-wide model set. Engines live in subpackages.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// DescriptorSize is the length of a face descriptor.
const DescriptorSize = 128

// Descriptor is a 128-dimensional face descriptor.
type Descriptor [DescriptorSize]float32

// Slice returns the descriptor as a fresh slice.
func (d Descriptor) Slice() []float32 {
	out := make([]float32, DescriptorSize)
	copy(out, d[:])
	return out
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point represents a 2D point.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Gender is the estimated gender of a face.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Expression names, in the output order of the expression net.
var ExpressionNames = []string{
	"neutral", "happy", "surprised", "sad", "angry", "disgusted", "fearful", "contempt",
}

// Expressions maps expression names to probabilities.
type Expressions map[string]float64

// Dominant returns the most probable expression. Ties go to the name that
// sorts first.
func (e Expressions) Dominant() (string, float64) {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestP := "", -1.0
	for _, name := range names {
		if e[name] > bestP {
			best, bestP = name, e[name]
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestP
}

// Detection is everything the engine reports for one face. Landmarks are the
// 5 points of dlib's alignment predictor, not a 68-point shape.
type Detection struct {
	Box               Rectangle   `json:"box"`
	Score             float64     `json:"score"`
	Landmarks         []Point     `json:"landmarks,omitempty"`
	Descriptor        Descriptor  `json:"descriptor"`
	Age               float64     `json:"age,omitempty"`
	Gender            Gender      `json:"gender,omitempty"`
	GenderProbability float64     `json:"gender_probability,omitempty"`
	Expressions       Expressions `json:"expressions,omitempty"`
}

// DetectorKind selects the face detector.
type DetectorKind string

const (
	// DetectorTiny gates frames with the OpenCV DNN SSD, then locates the face with dlib HOG.
	DetectorTiny DetectorKind = "tiny"
	// DetectorSSD runs the dlib CNN detector.
	DetectorSSD DetectorKind = "ssd"
	// DetectorCascade gates frames with a Haar cascade, then locates the face with dlib HOG.
	DetectorCascade DetectorKind = "cascade"
)

// ParseDetectorKind maps a config value to a DetectorKind.
func ParseDetectorKind(s string) (DetectorKind, error) {
	switch k := DetectorKind(s); k {
	case DetectorTiny, DetectorSSD, DetectorCascade:
		return k, nil
	case "":
		return DetectorTiny, nil
	default:
		return "", fmt.Errorf("unknown detector %q", s)
	}
}

// DetectOptions says which detector to use and which outputs to compute.
type DetectOptions struct {
	Detector        DetectorKind
	MinConfidence   float64
	WithLandmarks   bool
	WithDescriptor  bool
	WithAgeGender   bool
	WithExpressions bool
}

// DefaultDetectOptions is the session default: fastest detector, every output.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		Detector:        DetectorTiny,
		MinConfidence:   0.5,
		WithLandmarks:   true,
		WithDescriptor:  true,
		WithAgeGender:   true,
		WithExpressions: true,
	}
}

// Engine analyzes a single face in a JPEG frame.
type Engine interface {
	// DetectSingleFace returns nil, nil when the frame has no face.
	DetectSingleFace(ctx context.Context, jpeg []byte, opts DetectOptions) (*Detection, error)
	Close() error
}

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
