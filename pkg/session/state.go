package session

// State is a session's readiness.
type State int

const (
	// Unconfigured sessions have no models loaded.
	Unconfigured State = iota
	// ModelsLoading is set while LoadModels runs.
	ModelsLoading
	// ModelsReady sessions can start the camera.
	ModelsReady
	// CameraStarting is set while StartCamera opens and plays a stream.
	CameraStarting
	// CameraReady sessions can detect faces.
	CameraReady
)

var stateNames = [...]string{
	Unconfigured:   "unconfigured",
	ModelsLoading:  "models-loading",
	ModelsReady:    "models-ready",
	CameraStarting: "camera-starting",
	CameraReady:    "camera-ready",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// modelsLoaded reports whether the state is past model loading.
func (s State) modelsLoaded() bool {
	return s >= ModelsReady
}
