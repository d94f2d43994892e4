package dlib

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/faceroll/pkg/acceleration"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"gocv.io/x/gocv"
)

// faceGate decides whether a frame holds a face before dlib runs on it.
type faceGate interface {
	Pass(frame gocv.Mat, minConfidence float64) (bool, float64)
	Close() error
}

// attributeEstimator runs the age, gender and expression nets on a face crop.
type attributeEstimator interface {
	AgeGender(face gocv.Mat) (float64, recognition.Gender, float64, error)
	Expressions(face gocv.Mat) (recognition.Expressions, error)
	Close() error
}

func netPreference(p acceleration.Preference) (gocv.NetBackendType, gocv.NetTargetType) {
	backend := gocv.NetBackendDefault
	switch p.Backend {
	case acceleration.DNNBackendCUDA:
		backend = gocv.NetBackendCUDA
	case acceleration.DNNBackendOpenVINO:
		backend = gocv.NetBackendOpenVINO
	}

	target := gocv.NetTargetCPU
	switch p.Target {
	case acceleration.DNNTargetOpenCL:
		target = gocv.NetTargetFP32
	case acceleration.DNNTargetCUDA:
		target = gocv.NetTargetCUDA
	}
	return backend, target
}

func loadNet(dir, model, config string, pref acceleration.Preference) (gocv.Net, error) {
	modelPath := filepath.Join(dir, model)
	if _, err := os.Stat(modelPath); err != nil {
		return gocv.Net{}, fmt.Errorf("model file not found: %s", modelPath)
	}
	configPath := ""
	if config != "" {
		configPath = filepath.Join(dir, config)
		if _, err := os.Stat(configPath); err != nil {
			return gocv.Net{}, fmt.Errorf("config file not found: %s", configPath)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("failed to load network %s", model)
	}

	backend, target := netPreference(pref)
	if err := net.SetPreferableBackend(backend); err != nil {
		_ = net.Close()
		return gocv.Net{}, fmt.Errorf("failed to set backend for %s: %w", model, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		_ = net.Close()
		return gocv.Net{}, fmt.Errorf("failed to set target for %s: %w", model, err)
	}
	return net, nil
}

// dnnGate is the OpenCV ResNet-10 SSD face detector.
type dnnGate struct {
	net gocv.Net
}

func newDNNGate(dir string, pref acceleration.Preference) (*dnnGate, error) {
	net, err := loadNet(dir, models.DNNDetectorModel, models.DNNDetectorConfig, pref)
	if err != nil {
		return nil, err
	}
	return &dnnGate{net: net}, nil
}

// Pass runs the SSD and reports the best face confidence. Output rows are
// [image, class, confidence, x1, y1, x2, y2].
func (g *dnnGate) Pass(frame gocv.Mat, minConfidence float64) (bool, float64) {
	blob := gocv.BlobFromImage(frame, 1.0, image.Pt(300, 300), gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	g.net.SetInput(blob, "")
	output := g.net.Forward("")
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	var best float64
	for i := 0; i < rows.Rows(); i++ {
		if c := float64(rows.GetFloatAt(i, 2)); c > best {
			best = c
		}
	}
	return best >= minConfidence, best
}

func (g *dnnGate) Close() error {
	return g.net.Close()
}

// cascadeGate is the Haar cascade face detector.
type cascadeGate struct {
	classifier gocv.CascadeClassifier
}

func newCascadeGate(dir string) (*cascadeGate, error) {
	classifier := gocv.NewCascadeClassifier()
	path := filepath.Join(dir, models.HaarCascade)
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("failed to load cascade file: %s", path)
	}
	return &cascadeGate{classifier: classifier}, nil
}

// Pass reports whether the cascade finds any face. Cascades have no
// confidence, so a hit scores 1.
func (g *cascadeGate) Pass(frame gocv.Mat, _ float64) (bool, float64) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	if rects := g.classifier.DetectMultiScale(gray); len(rects) > 0 {
		return true, 1
	}
	return false, 0
}

func (g *cascadeGate) Close() error {
	return g.classifier.Close()
}

// attributeNets holds the Levi-Hassner age and gender nets and the FER+
// expression net.
type attributeNets struct {
	age, gender, expression gocv.Net
}

func newAttributeNets(dir string, pref acceleration.Preference) (*attributeNets, error) {
	age, err := loadNet(dir, models.AgeNetModel, models.AgeNetConfig, pref)
	if err != nil {
		return nil, err
	}
	gender, err := loadNet(dir, models.GenderNetModel, models.GenderNetConfig, pref)
	if err != nil {
		_ = age.Close()
		return nil, err
	}
	expression, err := loadNet(dir, models.ExpressionNetModel, "", pref)
	if err != nil {
		_ = age.Close()
		_ = gender.Close()
		return nil, err
	}
	return &attributeNets{age: age, gender: gender, expression: expression}, nil
}

func forwardScores(net *gocv.Net, blob gocv.Mat) []float32 {
	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	n := out.Total()
	flat := out.Reshape(1, 1)
	defer flat.Close()

	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		scores[i] = flat.GetFloatAt(0, i)
	}
	return scores
}

func (a *attributeNets) AgeGender(face gocv.Mat) (float64, recognition.Gender, float64, error) {
	blob := gocv.BlobFromImage(face, 1.0, image.Pt(227, 227),
		gocv.NewScalar(78.4263377603, 87.7689143744, 114.895847746, 0), false, false)
	defer blob.Close()

	age := expectedAge(normalize(forwardScores(&a.age, blob)))
	gender, p := genderFrom(normalize(forwardScores(&a.gender, blob)))
	return age, gender, p, nil
}

func (a *attributeNets) Expressions(face gocv.Mat) (recognition.Expressions, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)

	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(64, 64), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	return expressionsFrom(forwardScores(&a.expression, blob)), nil
}

func (a *attributeNets) Close() error {
	_ = a.age.Close()
	_ = a.gender.Close()
	return a.expression.Close()
}
