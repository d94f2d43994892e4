package dlib

import (
	"image"
	"math"

	"github.com/MrCodeEU/faceroll/pkg/recognition"
)

// ageBuckets are the midpoints of the Levi-Hassner age classes:
// (0-2) (4-6) (8-12) (15-20) (25-32) (38-43) (48-53) (60-100).
var ageBuckets = []float64{1, 5, 10, 17.5, 28.5, 40.5, 50.5, 80}

// softmax turns raw scores into probabilities.
func softmax(scores []float32) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := float64(scores[0])
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, float64(s))
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// normalize rescales non-negative outputs to sum to one.
func normalize(values []float32) []float64 {
	probs := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		probs[i] = math.Max(0, float64(v))
		sum += probs[i]
	}
	if sum == 0 {
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// expectedAge is the probability-weighted mean of the bucket midpoints.
func expectedAge(probs []float64) float64 {
	var age float64
	for i, p := range probs {
		if i < len(ageBuckets) {
			age += p * ageBuckets[i]
		}
	}
	return age
}

// genderFrom picks the more probable class; index 0 is male.
func genderFrom(probs []float64) (recognition.Gender, float64) {
	if len(probs) < 2 {
		return "", 0
	}
	if probs[1] > probs[0] {
		return recognition.GenderFemale, probs[1]
	}
	return recognition.GenderMale, probs[0]
}

// expressionsFrom maps FER+ scores to named probabilities.
func expressionsFrom(scores []float32) recognition.Expressions {
	probs := softmax(scores)
	out := make(recognition.Expressions, len(recognition.ExpressionNames))
	for i, name := range recognition.ExpressionNames {
		if i < len(probs) {
			out[name] = probs[i]
		}
	}
	return out
}

// toRectangle converts an image rectangle.
func toRectangle(r image.Rectangle) recognition.Rectangle {
	return recognition.Rectangle{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// toPoints converts landmark shapes.
func toPoints(shapes []image.Point) []recognition.Point {
	if len(shapes) == 0 {
		return nil
	}
	points := make([]recognition.Point, len(shapes))
	for i, p := range shapes {
		points[i] = recognition.Point{X: p.X, Y: p.Y}
	}
	return points
}

// faceRegion pads the face box by a fifth on each side, as the attribute nets
// were trained on loose crops, and clips it to the frame.
func faceRegion(r image.Rectangle, width, height int) image.Rectangle {
	padX, padY := r.Dx()/5, r.Dy()/5
	padded := image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY)
	return padded.Intersect(image.Rect(0, 0, width, height))
}
