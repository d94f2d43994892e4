// Package models describes the pretrained model artifacts faceroll needs and
// fetches them from a model repository.
package models

// Artifact names, in the order they are fetched.
const (
	TinyFaceDetector    = "tiny_face_detector"
	SSDFaceDetector     = "ssd_face_detector"
	CascadeFaceDetector = "cascade_face_detector"
	FaceLandmark68      = "face_landmark_68"
	FaceLandmark68Tiny  = "face_landmark_68_tiny"
	FaceRecognition     = "face_recognition"
	AgeGender           = "age_gender"
	FaceExpression      = "face_expression"
)

// File is a single model file on disk.
// URL is the upstream source used by Download; repositories serve files by Name.
type File struct {
	Name  string
	URL   string
	Bzip2 bool
}

// Artifact is a named model made of one or more files.
type Artifact struct {
	Name  string
	Role  string
	Files []File
}

// Model file names shared with the inference engines.
const (
	DNNDetectorModel   = "opencv_face_detector_uint8.pb"
	DNNDetectorConfig  = "opencv_face_detector.pbtxt"
	CNNDetectorModel   = "mmod_human_face_detector.dat"
	HaarCascade        = "haarcascade_frontalface_default.xml"
	ShapePredictor68   = "shape_predictor_68_face_landmarks.dat"
	ShapePredictor5    = "shape_predictor_5_face_landmarks.dat"
	ResNetModel        = "dlib_face_recognition_resnet_model_v1.dat"
	AgeNetModel        = "age_net.caffemodel"
	AgeNetConfig       = "age_deploy.prototxt"
	GenderNetModel     = "gender_net.caffemodel"
	GenderNetConfig    = "gender_deploy.prototxt"
	ExpressionNetModel = "emotion-ferplus-8.onnx"
)

const (
	dlibFiles      = "http://dlib.net/files/"
	ageGenderFiles = "https://raw.githubusercontent.com/smahesh29/Gender-and-Age-Detection/master/"
	opencvData     = "https://raw.githubusercontent.com/opencv/opencv/4.x/data/haarcascades/"
	ferplusFiles   = "https://github.com/onnx/models/raw/main/validated/vision/body_analysis/emotion_ferplus/model/"
)

// Manifest returns the eight artifacts in fetch order.
func Manifest() []Artifact {
	return []Artifact{
		{
			Name: TinyFaceDetector,
			Role: "fast face detector gate (OpenCV DNN SSD)",
			Files: []File{
				{Name: DNNDetectorModel, URL: ageGenderFiles + DNNDetectorModel},
				{Name: DNNDetectorConfig, URL: ageGenderFiles + DNNDetectorConfig},
			},
		},
		{
			Name:  SSDFaceDetector,
			Role:  "higher-capacity face detector (dlib CNN MMOD)",
			Files: []File{{Name: CNNDetectorModel, URL: dlibFiles + CNNDetectorModel + ".bz2", Bzip2: true}},
		},
		{
			Name:  CascadeFaceDetector,
			Role:  "Haar cascade face detector",
			Files: []File{{Name: HaarCascade, URL: opencvData + HaarCascade}},
		},
		{
			Name:  FaceLandmark68,
			Role:  "68-point landmark predictor",
			Files: []File{{Name: ShapePredictor68, URL: dlibFiles + ShapePredictor68 + ".bz2", Bzip2: true}},
		},
		{
			Name:  FaceLandmark68Tiny,
			Role:  "lightweight landmark predictor",
			Files: []File{{Name: ShapePredictor5, URL: dlibFiles + ShapePredictor5 + ".bz2", Bzip2: true}},
		},
		{
			Name:  FaceRecognition,
			Role:  "128-d descriptor ResNet",
			Files: []File{{Name: ResNetModel, URL: dlibFiles + ResNetModel + ".bz2", Bzip2: true}},
		},
		{
			Name: AgeGender,
			Role: "age and gender nets",
			Files: []File{
				{Name: AgeNetModel, URL: ageGenderFiles + AgeNetModel},
				{Name: AgeNetConfig, URL: ageGenderFiles + AgeNetConfig},
				{Name: GenderNetModel, URL: ageGenderFiles + GenderNetModel},
				{Name: GenderNetConfig, URL: ageGenderFiles + GenderNetConfig},
			},
		},
		{
			Name:  FaceExpression,
			Role:  "FER+ expression net",
			Files: []File{{Name: ExpressionNetModel, URL: ferplusFiles + ExpressionNetModel}},
		},
	}
}

// Files flattens a manifest into its files, preserving order.
func Files(manifest []Artifact) []File {
	var files []File
	for _, a := range manifest {
		files = append(files, a.Files...)
	}
	return files
}
