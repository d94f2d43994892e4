// Package acceleration picks the compute device the OpenCV DNN nets
// (detector gate, age/gender, expressions) run on. dlib always runs on the CPU.
package acceleration

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/MrCodeEU/faceroll/pkg/logging"
)

// Backend represents an acceleration backend type.
type Backend string

const (
	// BackendCPU is the default CPU-only backend (always available).
	BackendCPU Backend = "cpu"

	// BackendCUDA runs DNN nets on NVIDIA GPUs. Needs OpenCV built with CUDA.
	BackendCUDA Backend = "cuda"

	// BackendOpenCL runs DNN nets through OpenCL on any GPU with an ICD.
	BackendOpenCL Backend = "opencl"

	// BackendROCm is an AMD GPU. OpenCV DNN reaches it through OpenCL.
	BackendROCm Backend = "rocm"

	// BackendOpenVINO runs DNN nets through Intel's inference engine.
	BackendOpenVINO Backend = "openvino"

	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
)

// ParseBackend maps a config value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendCPU, BackendCUDA, BackendOpenCL, BackendROCm, BackendOpenVINO, BackendAuto:
		return b, nil
	case "":
		return BackendAuto, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, s)
	}
}

// DNNBackend mirrors the OpenCV DNN computation backends faceroll uses.
type DNNBackend int

const (
	DNNBackendDefault DNNBackend = iota
	DNNBackendCUDA
	DNNBackendOpenVINO
)

// DNNTarget mirrors the OpenCV DNN target devices faceroll uses.
type DNNTarget int

const (
	DNNTargetCPU DNNTarget = iota
	DNNTargetOpenCL
	DNNTargetCUDA
)

// Preference is the backend/target pair to set on every DNN net.
type Preference struct {
	Backend DNNBackend
	Target  DNNTarget
}

// PreferenceFor returns the DNN preference for an acceleration backend.
func PreferenceFor(b Backend) Preference {
	switch b {
	case BackendCUDA:
		return Preference{Backend: DNNBackendCUDA, Target: DNNTargetCUDA}
	case BackendOpenVINO:
		return Preference{Backend: DNNBackendOpenVINO, Target: DNNTargetCPU}
	case BackendOpenCL, BackendROCm:
		return Preference{Backend: DNNBackendDefault, Target: DNNTargetOpenCL}
	default:
		return Preference{Backend: DNNBackendDefault, Target: DNNTargetCPU}
	}
}

// BackendInfo contains information about an acceleration backend.
type BackendInfo struct {
	Backend     Backend
	Name        string
	Available   bool
	Version     string
	DeviceName  string
	DeviceCount int
	Warning     string
}

// Config holds acceleration configuration.
type Config struct {
	PreferredBackend Backend
	FallbackToCPU    bool
}

// DefaultConfig returns default acceleration configuration.
func DefaultConfig() Config {
	return Config{
		PreferredBackend: BackendAuto,
		FallbackToCPU:    true,
	}
}

// Manager detects backends and holds the one selected for this process.
type Manager struct {
	config            Config
	activeBackend     Backend
	availableBackends map[Backend]*BackendInfo
	mu                sync.RWMutex
	initialized       bool
}

// NewManager creates an uninitialized manager that reports the CPU backend.
func NewManager() *Manager {
	return &Manager{
		config:            DefaultConfig(),
		activeBackend:     BackendCPU,
		availableBackends: make(map[Backend]*BackendInfo),
	}
}

// execCommand is replaced in tests.
var execCommand = exec.Command

// sysRoot prefixes every /sys, /dev and /etc probe; replaced in tests.
var sysRoot = "/"

// Initialize detects available backends and selects one.
func (m *Manager) Initialize(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg
	m.detectBackends()

	backend, err := m.selectBackend(cfg.PreferredBackend)
	if err != nil {
		return err
	}
	m.activeBackend = backend
	m.initialized = true

	log := logging.Component("acceleration")
	if info := m.availableBackends[backend]; info != nil {
		log.Infof("Acceleration initialized: %s (%s)", info.Name, info.DeviceName)
		if info.Warning != "" {
			log.Warnf("Backend warning: %s", info.Warning)
		}
	}
	return nil
}

// detectBackends detects all available acceleration backends.
func (m *Manager) detectBackends() {
	m.availableBackends = map[Backend]*BackendInfo{
		BackendCPU: {
			Backend:     BackendCPU,
			Name:        "CPU",
			Available:   true,
			DeviceName:  getCPUName(),
			DeviceCount: runtime.NumCPU(),
		},
	}

	for _, detect := range []func() *BackendInfo{detectCUDA, detectROCm, detectOpenCL, detectOpenVINO} {
		if info := detect(); info != nil {
			m.availableBackends[info.Backend] = info
		}
	}
}

// selectBackend selects the best available backend.
func (m *Manager) selectBackend(preferred Backend) (Backend, error) {
	if preferred != BackendAuto && preferred != "" {
		if info, ok := m.availableBackends[preferred]; ok && info.Available {
			return preferred, nil
		}
		if !m.config.FallbackToCPU {
			return "", fmt.Errorf("%w: %s", ErrBackendNotAvailable, preferred)
		}
		logging.Component("acceleration").Warnf("Requested backend %s not available, falling back to CPU", preferred)
		return BackendCPU, nil
	}

	// CUDA has the fastest DNN path; OpenCL covers AMD and Intel GPUs.
	priorities := []Backend{BackendCUDA, BackendROCm, BackendOpenCL, BackendOpenVINO, BackendCPU}
	for _, backend := range priorities {
		if info, ok := m.availableBackends[backend]; ok && info.Available {
			return backend, nil
		}
	}
	return BackendCPU, nil
}

// GetActiveBackend returns the currently active backend.
func (m *Manager) GetActiveBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeBackend
}

// Preference returns the DNN preference of the active backend.
func (m *Manager) Preference() Preference {
	return PreferenceFor(m.GetActiveBackend())
}

// GetBackendInfo returns information about a specific backend.
func (m *Manager) GetBackendInfo(backend Backend) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableBackends[backend]
}

// GetAllBackends returns information about all detected backends.
func (m *Manager) GetAllBackends() map[Backend]*BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[Backend]*BackendInfo, len(m.availableBackends))
	for k, v := range m.availableBackends {
		result[k] = v
	}
	return result
}

// IsAccelerated returns true if DNN nets run off the CPU.
func (m *Manager) IsAccelerated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeBackend != BackendCPU
}

func sysPath(p string) string {
	return filepath.Join(sysRoot, p)
}

// gpuVendors counts DRM cards per PCI vendor id.
func gpuVendors() map[string]int {
	counts := make(map[string]int)
	devices, _ := filepath.Glob(sysPath("sys/class/drm/card*/device/vendor"))
	for _, dev := range devices {
		vendor, err := os.ReadFile(dev)
		if err == nil {
			counts[strings.TrimSpace(string(vendor))]++
		}
	}
	return counts
}

// detectCUDA detects NVIDIA CUDA availability.
func detectCUDA() *BackendInfo {
	output, err := execCommand("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil
	}

	info := &BackendInfo{
		Backend:     BackendCUDA,
		Name:        "NVIDIA CUDA",
		Available:   true,
		DeviceCount: len(lines),
		Warning:     "CUDA needs OpenCV built with CUDA support; nets fall back to CPU otherwise",
	}
	parts := strings.Split(lines[0], ",")
	info.DeviceName = strings.TrimSpace(parts[0])
	if len(parts) >= 2 {
		info.Version = strings.TrimSpace(parts[1])
	}
	return info
}

// detectROCm detects an AMD GPU with a ROCm install.
func detectROCm() *BackendInfo {
	rocmPath := os.Getenv("ROCM_PATH")
	if rocmPath == "" {
		rocmPath = sysPath("opt/rocm")
	}
	if _, err := os.Stat(rocmPath); err != nil {
		return nil
	}

	count := gpuVendors()["0x1002"]
	if count == 0 {
		return nil
	}
	return &BackendInfo{
		Backend:     BackendROCm,
		Name:        "AMD ROCm (OpenCL)",
		Available:   true,
		Version:     getROCmVersion(rocmPath),
		DeviceName:  fmt.Sprintf("AMD GPU (%d device(s))", count),
		DeviceCount: count,
	}
}

// getROCmVersion gets the ROCm version.
func getROCmVersion(rocmPath string) string {
	for _, f := range []string{filepath.Join(rocmPath, ".info", "version"), filepath.Join(rocmPath, "version")} {
		if data, err := os.ReadFile(f); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "unknown"
}

// detectOpenCL detects an installed OpenCL ICD and a render node.
func detectOpenCL() *BackendInfo {
	icds, _ := filepath.Glob(sysPath("etc/OpenCL/vendors/*.icd"))
	if len(icds) == 0 {
		return nil
	}
	if _, err := os.Stat(sysPath("dev/dri/renderD128")); err != nil {
		return nil
	}

	names := make([]string, 0, len(icds))
	for _, icd := range icds {
		names = append(names, strings.TrimSuffix(filepath.Base(icd), ".icd"))
	}
	return &BackendInfo{
		Backend:     BackendOpenCL,
		Name:        "OpenCL",
		Available:   true,
		DeviceName:  strings.Join(names, ", "),
		DeviceCount: len(icds),
	}
}

// detectOpenVINO detects Intel OpenVINO availability.
func detectOpenVINO() *BackendInfo {
	openvinoPath := os.Getenv("INTEL_OPENVINO_DIR")
	if openvinoPath == "" {
		for _, p := range []string{"opt/intel/openvino", "opt/intel/openvino_2024", "opt/intel/openvino_2023"} {
			if _, err := os.Stat(sysPath(p)); err == nil {
				openvinoPath = sysPath(p)
				break
			}
		}
	}
	if openvinoPath == "" {
		return nil
	}

	info := &BackendInfo{
		Backend:     BackendOpenVINO,
		Name:        "Intel OpenVINO",
		Available:   true,
		Version:     getOpenVINOVersion(openvinoPath),
		DeviceName:  "Intel (CPU inference)",
		DeviceCount: 1,
	}
	if gpuVendors()["0x8086"] > 0 {
		info.DeviceName = "Intel GPU"
	}
	return info
}

// getOpenVINOVersion gets the OpenVINO version.
func getOpenVINOVersion(path string) string {
	if data, err := os.ReadFile(filepath.Join(path, "version.txt")); err == nil {
		return strings.TrimSpace(string(data))
	}
	return "unknown"
}

// getCPUName returns the CPU name.
func getCPUName() string {
	data, err := os.ReadFile(sysPath("proc/cpuinfo"))
	if err != nil {
		return "Unknown CPU"
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "Unknown CPU"
}

// ErrBackendNotAvailable is returned when a requested backend is not available.
var ErrBackendNotAvailable = errors.New("acceleration backend not available")

// ErrUnknownBackend is returned for unrecognized backend names.
var ErrUnknownBackend = errors.New("unknown acceleration backend")
