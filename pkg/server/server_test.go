package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/config"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/MrCodeEU/faceroll/pkg/session"
	"github.com/gorilla/websocket"
)

type mockEngine struct {
	detect func() (*recognition.Detection, error)
}

func (m *mockEngine) DetectSingleFace(ctx context.Context, jpeg []byte, opts recognition.DetectOptions) (*recognition.Detection, error) {
	if m.detect != nil {
		return m.detect()
	}
	return nil, nil
}

func (m *mockEngine) Close() error { return nil }

type rosterFunc func() ([]matcher.PersonRecord, error)

func (f rosterFunc) Roster() ([]matcher.PersonRecord, error) { return f() }

func anaDescriptor() recognition.Descriptor {
	var d recognition.Descriptor
	for i := range d {
		d[i] = float32(i%7) / 10
	}
	return d
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < 32; i++ {
		img.Set(i, i, color.White)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	server   *Server
	modelDir string
}

func newFixture(t *testing.T, engine recognition.Engine, roster RosterSource) *fixture {
	t.Helper()
	modelDir := t.TempDir()
	for _, f := range models.Files(models.Manifest()) {
		if err := os.WriteFile(filepath.Join(modelDir, f.Name), []byte("model:"+f.Name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	device, err := camera.NewImageDevice(testJPEG(t))
	if err != nil {
		t.Fatal(err)
	}

	ms := recognition.NewModelSet(func(dir string) (recognition.Engine, error) { return engine, nil }, t.TempDir())
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0, StreamIntervalMS: 10}, Deps{
		Models:     ms,
		Repository: models.NewDirRepository(modelDir),
		Device:     device,
		Roster:     roster,
		Options:    session.DefaultOptions(),
		ModelDir:   modelDir,
	})
	t.Cleanup(func() {
		for _, id := range srv.sessions.Keys() {
			srv.closeSession(id)
		}
	})
	return &fixture{server: srv, modelDir: modelDir}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var info SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.ID == "" || info.State != session.CameraReady.String() {
		t.Fatalf("unexpected session info %+v", info)
	}
	return info.ID
}

func faceEngine() *mockEngine {
	return &mockEngine{detect: func() (*recognition.Detection, error) {
		return &recognition.Detection{Descriptor: anaDescriptor(), Score: 0.97, Age: 31, Gender: recognition.GenderFemale}, nil
	}}
}

func anaRoster() rosterFunc {
	return func() ([]matcher.PersonRecord, error) {
		return []matcher.PersonRecord{
			{Label: "Ana", Descriptor: anaDescriptor().Slice()},
			{Label: "Luis", Descriptor: make([]float32, recognition.DescriptorSize)},
		}, nil
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["models"] != false {
		t.Errorf("unexpected health body %v", body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
}

func TestModelFiles(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)

	rec := f.do(t, http.MethodGet, "/models/"+models.ResNetModel, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "model:"+models.ResNetModel {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/models/missing.dat", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestModelFiles_ServeHTTPRepository(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	dir, err := models.Materialize(context.Background(), models.NewHTTPRepository(ts.URL+"/models"), models.Manifest(), t.TempDir())
	if err != nil {
		t.Fatalf("Materialize over the model route failed: %v", err)
	}
	if missing := models.Missing(dir, models.Manifest()); len(missing) != 0 {
		t.Errorf("missing files after materialize: %v", missing)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, faceEngine(), anaRoster())
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", nil)
	var infos []SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ID != id {
		t.Errorf("expected one listed session, got %+v", infos)
	}

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if f.server.SessionCount() != 0 {
		t.Error("session should be removed")
	}

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestDescriptor(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/descriptor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body DescriptorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Descriptor) != recognition.DescriptorSize {
		t.Fatalf("expected %d values, got %d", recognition.DescriptorSize, len(body.Descriptor))
	}
	want := anaDescriptor()
	for i, v := range body.Descriptor {
		if v != want[i] {
			t.Fatalf("value %d changed: %f != %f", i, v, want[i])
		}
	}
}

func TestDescriptor_NoFace(t *testing.T) {
	f := newFixture(t, &mockEngine{}, nil)
	id := f.createSession(t)

	for _, path := range []string{"/descriptor", "/detection"} {
		rec := f.do(t, http.MethodGet, "/api/sessions/"+id+path, nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected 204, got %d", path, rec.Code)
		}
	}
}

func TestDescriptor_EngineError(t *testing.T) {
	f := newFixture(t, &mockEngine{detect: func() (*recognition.Detection, error) {
		return nil, errors.New("cuda out of memory")
	}}, nil)
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/descriptor", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope/descriptor"},
		{http.MethodGet, "/api/sessions/nope/detection"},
		{http.MethodPost, "/api/sessions/nope/match"},
		{http.MethodGet, "/api/sessions/nope/stream"},
	} {
		rec := f.do(t, tt.method, tt.path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tt.method, tt.path, rec.Code)
		}
	}
}

func TestDetection(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	id := f.createSession(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id+"/detection", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var det recognition.Detection
	if err := json.NewDecoder(rec.Body).Decode(&det); err != nil {
		t.Fatal(err)
	}
	if det.Age != 31 || det.Gender != recognition.GenderFemale || det.Descriptor != anaDescriptor() {
		t.Errorf("unexpected detection %+v", det)
	}
}

func TestCreateSession_ModelsUnavailable(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	if err := os.Remove(filepath.Join(f.modelDir, models.ShapePredictor5)); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if f.server.SessionCount() != 0 {
		t.Error("failed session should not be registered")
	}
}

func TestCreateSession_CameraDenied(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	f.server.deps.Device = deviceFunc(func(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
		return nil, camera.ErrPermissionDenied
	})

	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

type deviceFunc func(ctx context.Context, c camera.Constraints) (camera.Stream, error)

func (f deviceFunc) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	return f(ctx, c)
}

func TestMatch(t *testing.T) {
	f := newFixture(t, faceEngine(), anaRoster())
	id := f.createSession(t)

	tests := []struct {
		name     string
		body     any
		status   int
		label    string
		contains string
	}{
		{name: "stored roster", body: nil, status: http.StatusOK, label: "Ana"},
		{
			name:   "request roster",
			body:   MatchRequest{Roster: []matcher.PersonRecord{{Label: "Bea", Descriptor: anaDescriptor().Slice()}}},
			status: http.StatusOK, label: "Bea",
		},
		{
			name:   "explicit descriptor",
			body:   MatchRequest{Descriptor: make([]float32, recognition.DescriptorSize)},
			status: http.StatusOK, label: "Luis",
		},
		{
			name:   "unknown face",
			body:   MatchRequest{Roster: []matcher.PersonRecord{{Label: "Bea", Descriptor: make([]float32, recognition.DescriptorSize)}}},
			status: http.StatusOK, label: matcher.Unknown,
		},
		{
			name:   "bad roster descriptor",
			body:   MatchRequest{Roster: []matcher.PersonRecord{{Label: "Bea", Descriptor: []float32{1, 2}}}},
			status: http.StatusBadRequest, contains: "has 2 values",
		},
		{
			name:   "bad query descriptor",
			body:   MatchRequest{Descriptor: []float32{1}},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/match", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("expected %q in %s", tt.contains, rec.Body.String())
			}
			if tt.label == "" {
				return
			}
			var m matcher.Match
			if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
				t.Fatal(err)
			}
			if m.Label != tt.label {
				t.Errorf("expected %s, got %v", tt.label, m)
			}
		})
	}
}

func TestMatch_EmptyRoster(t *testing.T) {
	f := newFixture(t, faceEngine(), rosterFunc(func() ([]matcher.PersonRecord, error) { return nil, nil }))
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/match", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestMatch_InvalidBody(t *testing.T) {
	f := newFixture(t, faceEngine(), anaRoster())
	id := f.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/match", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestStream(t *testing.T) {
	f := newFixture(t, faceEngine(), anaRoster())
	id := f.createSession(t)

	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event StreamEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !event.Face || event.Match == nil || event.Match.Label != "Ana" {
		t.Errorf("expected Ana match event, got %+v", event)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, faceEngine(), nil)
	f.createSession(t)
	f.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if f.server.SessionCount() != 0 {
		t.Errorf("expected no sessions, got %d", f.server.SessionCount())
	}
}
