package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(t *testing.T, level logrus.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	t.Cleanup(func() { Logger = newLogger() })
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"ERROR", logrus.ErrorLevel},
		{"unknown", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestInit_Levels(t *testing.T) {
	t.Cleanup(func() { Logger = newLogger() })

	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		t.Run(level, func(t *testing.T) {
			Logger = logrus.New()
			if err := Init(level, "text", ""); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Logger.GetLevel() != ParseLevel(level) {
				t.Errorf("level = %v, want %v", Logger.GetLevel(), ParseLevel(level))
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	t.Cleanup(func() { Logger = newLogger() })
	Logger = logrus.New()

	if err := Init("info", "json", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, ok := Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter, got %T", Logger.Formatter)
	}

	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	Component("session").Info("ready")
	if !strings.Contains(buf.String(), `"component":"session"`) {
		t.Errorf("expected json component field, got %s", buf.String())
	}
}

func TestInit_CreatesNestedLogFile(t *testing.T) {
	t.Cleanup(func() { Logger = newLogger() })
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "subdir", "nested", "faceroll.log")

	if err := Init("info", "text", logFile); err != nil {
		t.Fatalf("Init with nested log file failed: %v", err)
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("nested log file was not created")
	}
}

func TestFormattedHelpers(t *testing.T) {
	buf := captureLogger(t, logrus.DebugLevel)

	cases := []struct {
		log  func()
		want string
	}{
		{func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{func() { Infof("info %d", 42) }, "info 42"},
		{func() { Warnf("warn %s", "test") }, "warn test"},
		{func() { Errorf("error %s", "occurred") }, "error occurred"},
	}
	for _, c := range cases {
		buf.Reset()
		c.log()
		if !strings.Contains(buf.String(), c.want) {
			t.Errorf("expected %q in %q", c.want, buf.String())
		}
	}
}

func TestWithFields(t *testing.T) {
	buf := captureLogger(t, logrus.InfoLevel)

	WithFields(Fields{"label": "Ana", "distance": 0.12}).Info("matched")

	out := buf.String()
	for _, want := range []string{"label=Ana", "distance=0.12", "matched"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

func TestWithError(t *testing.T) {
	buf := captureLogger(t, logrus.ErrorLevel)

	WithError(&testError{msg: "camera busy"}).Error("start failed")

	if !strings.Contains(buf.String(), "camera busy") {
		t.Error("error not in output")
	}
}

func TestComponent(t *testing.T) {
	buf := captureLogger(t, logrus.InfoLevel)

	Component("models").Info("loaded")

	out := buf.String()
	if !strings.Contains(out, "component=models") {
		t.Error("component field not in output")
	}
	if !strings.Contains(out, "loaded") {
		t.Error("message not in output")
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogger(t, logrus.ErrorLevel)

	Debugf("debug")
	Infof("info")
	Warnf("warn")
	if buf.Len() > 0 {
		t.Errorf("nothing below error should be logged, got %q", buf.String())
	}

	Errorf("error")
	if buf.Len() == 0 {
		t.Error("Errorf should be logged at error level")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func BenchmarkWithFields(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})
	Logger.SetLevel(logrus.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		WithFields(Fields{"label": "Ana", "frame": i}).Info("match")
	}
}
