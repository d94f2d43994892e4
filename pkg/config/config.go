// Package config provides configuration management for faceroll.
// It loads configuration from YAML files with sensible defaults and lets
// FACEROLL_* environment variables (optionally from a .env file) override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all faceroll configuration.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Roster    RosterConfig    `yaml:"roster"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelsConfig says where model artifacts come from.
// When BaseURL is empty, Dir is used in place as the model repository.
type ModelsConfig struct {
	BaseURL  string `yaml:"base_url"`
	Dir      string `yaml:"dir"`
	CacheDir string `yaml:"cache_dir"`
}

// CameraConfig holds camera settings. Zero width, height or fps keeps the
// device default.
type CameraConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// DetectionConfig holds inference settings.
type DetectionConfig struct {
	Detector        string  `yaml:"detector"`
	MinConfidence   float64 `yaml:"min_confidence"`
	AgeGender       bool    `yaml:"age_gender"`
	Expressions     bool    `yaml:"expressions"`
	Acceleration    string  `yaml:"acceleration"`
	PollIntervalMS  int     `yaml:"poll_interval_ms"`
	DetectTimeoutMS int     `yaml:"detect_timeout_ms"`
}

// MatcherConfig holds face matcher settings.
type MatcherConfig struct {
	Threshold    float64 `yaml:"threshold"`
	IndexMinSize int     `yaml:"index_min_size"`
}

// RosterConfig holds roster store settings.
type RosterConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	StreamIntervalMS int    `yaml:"stream_interval_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Models: ModelsConfig{
			Dir:      filepath.Join(homeDir, ".local/share/faceroll/models"),
			CacheDir: filepath.Join(homeDir, ".cache/faceroll/models"),
		},
		Camera: CameraConfig{
			Device: "/dev/video0",
		},
		Detection: DetectionConfig{
			Detector:        "tiny",
			MinConfidence:   0.5,
			AgeGender:       true,
			Expressions:     true,
			Acceleration:    "auto",
			PollIntervalMS:  200,
			DetectTimeoutMS: 10000,
		},
		Matcher: MatcherConfig{
			Threshold: 0.6,
		},
		Roster: RosterConfig{
			DataDir: filepath.Join(homeDir, ".local/share/faceroll"),
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			StreamIntervalMS: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceroll/faceroll.yaml"); err == nil {
		return Load("/etc/faceroll/faceroll.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceroll/faceroll.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv loads a .env file into the process environment if present.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from FACEROLL_* environment variables.
func (c *Config) ApplyEnv() {
	envString("FACEROLL_MODELS_BASE_URL", &c.Models.BaseURL)
	envString("FACEROLL_MODELS_DIR", &c.Models.Dir)
	envString("FACEROLL_MODELS_CACHE_DIR", &c.Models.CacheDir)
	envString("FACEROLL_CAMERA_DEVICE", &c.Camera.Device)
	envString("FACEROLL_DETECTOR", &c.Detection.Detector)
	envString("FACEROLL_ACCELERATION", &c.Detection.Acceleration)
	envFloat("FACEROLL_MATCH_THRESHOLD", &c.Matcher.Threshold)
	envString("FACEROLL_ROSTER_DIR", &c.Roster.DataDir)
	envString("FACEROLL_SERVER_HOST", &c.Server.Host)
	envInt("FACEROLL_SERVER_PORT", &c.Server.Port)
	envString("FACEROLL_LOG_LEVEL", &c.Logging.Level)
	envString("FACEROLL_LOG_FILE", &c.Logging.File)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt only accepts positive integers; anything else keeps the current value.
func envInt(key string, dst *int) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		*dst = f
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Models.BaseURL == "" && c.Models.Dir == "" {
		return fmt.Errorf("models: either base_url or dir must be set")
	}
	if c.Models.BaseURL != "" && !strings.HasPrefix(c.Models.BaseURL, "http://") && !strings.HasPrefix(c.Models.BaseURL, "https://") {
		return fmt.Errorf("models.base_url must be an http(s) URL, got %q", c.Models.BaseURL)
	}

	if c.Camera.Device == "" {
		return fmt.Errorf("camera.device must be set")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS < 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	validDetectors := map[string]bool{"tiny": true, "ssd": true, "cascade": true}
	if !validDetectors[c.Detection.Detector] {
		return fmt.Errorf("invalid detector: %s (must be tiny, ssd, or cascade)", c.Detection.Detector)
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", c.Detection.MinConfidence)
	}
	validBackends := map[string]bool{"auto": true, "cpu": true, "cuda": true, "opencl": true, "openvino": true}
	if !validBackends[c.Detection.Acceleration] {
		return fmt.Errorf("invalid acceleration: %s (must be auto, cpu, cuda, opencl, or openvino)", c.Detection.Acceleration)
	}
	if c.Detection.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.Detection.PollIntervalMS)
	}

	if c.Matcher.Threshold <= 0 {
		return fmt.Errorf("matcher threshold must be positive, got %f", c.Matcher.Threshold)
	}
	if c.Matcher.IndexMinSize < 0 {
		return fmt.Errorf("index_min_size must not be negative, got %d", c.Matcher.IndexMinSize)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.StreamIntervalMS <= 0 {
		return fmt.Errorf("stream_interval_ms must be positive, got %d", c.Server.StreamIntervalMS)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Models.Dir = ExpandPath(c.Models.Dir)
	c.Models.CacheDir = ExpandPath(c.Models.CacheDir)
	c.Roster.DataDir = ExpandPath(c.Roster.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

type dirSpec struct {
	path string
	perm os.FileMode
	what string
}

// EnsureDirectories creates the directories faceroll writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []dirSpec{
		{filepath.Join(c.Roster.DataDir, "people"), 0700, "roster"},
		{c.Models.Dir, 0755, "models"},
		{c.Models.CacheDir, 0755, "model cache"},
	}
	if c.Logging.File != "" {
		dirs = append(dirs, dirSpec{filepath.Dir(c.Logging.File), 0755, "log"})
	}

	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", d.what, err)
		}
	}
	return nil
}

// ModelDir returns the directory the engine reads models from.
// Remote repositories are materialized into the cache dir.
func (c *Config) ModelDir() string {
	if c.Models.BaseURL != "" {
		return c.Models.CacheDir
	}
	return c.Models.Dir
}
