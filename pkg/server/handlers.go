package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Created time.Time `json:"created"`
}

// DescriptorResponse carries a face descriptor.
type DescriptorResponse struct {
	Descriptor []float32 `json:"descriptor"`
}

// MatchRequest optionally overrides the roster and the query descriptor.
type MatchRequest struct {
	Roster     []matcher.PersonRecord `json:"roster,omitempty"`
	Descriptor []float32              `json:"descriptor,omitempty"`
}

func (e *sessionEntry) info() SessionInfo {
	return SessionInfo{ID: e.id, State: e.session.State().String(), Created: e.created}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"models":   s.deps.Models.Ready(),
		"sessions": s.sessions.Count(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := []SessionInfo{}
	for item := range s.sessions.IterBuffered() {
		infos = append(infos, item.Val.info())
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	log := logging.Component("http")
	sess := session.New(s.deps.Models, s.deps.Repository, s.deps.Device, s.deps.Options)
	surface := camera.NewSurface()
	sess.AttachVideo(surface)

	if err := sess.LoadModels(r.Context()); err != nil {
		log.WithError(err).Error("loading models failed")
		surface.Release()
		respondError(w, http.StatusServiceUnavailable, "failed to load models: "+err.Error())
		return
	}

	if err := sess.StartCamera(r.Context()); err != nil {
		log.WithError(err).Error("starting camera failed")
		surface.Release()
		status := http.StatusServiceUnavailable
		if errors.Is(err, camera.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		respondError(w, status, err.Error())
		return
	}

	entry := &sessionEntry{id: uuid.NewString(), session: sess, surface: surface, created: time.Now()}
	s.sessions.Set(entry.id, entry)
	log.WithField("session", entry.id).Info("Session created")

	respondJSON(w, http.StatusCreated, entry.info())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	id := chi.URLParam(r, "id")
	entry, ok := s.sessions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return entry, true
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.closeSession(id) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	logging.Component("http").WithField("session", id).Info("Session closed")
	w.WriteHeader(http.StatusNoContent)
}

// respondDetectError maps session errors to status codes.
func respondDetectError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotReady) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) descriptor(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	d, err := entry.session.GetFaceDescriptor(r.Context())
	if err != nil {
		respondDetectError(w, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, DescriptorResponse{Descriptor: d.Slice()})
}

func (s *Server) detection(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	det, err := entry.session.DetectFace(r.Context())
	if err != nil {
		respondDetectError(w, err)
		return
	}
	if det == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, det)
}

// buildMatcher uses the request roster, falling back to the roster source.
func (s *Server) buildMatcher(sess *session.Session, roster []matcher.PersonRecord) (*matcher.FaceMatcher, error) {
	if len(roster) == 0 && s.deps.Roster != nil {
		stored, err := s.deps.Roster.Roster()
		if err != nil {
			return nil, err
		}
		roster = stored
	}
	return sess.CreateFaceMatcher(roster)
}

func respondMatcherError(w http.ResponseWriter, err error) {
	var de *matcher.DimensionError
	switch {
	case errors.Is(err, matcher.ErrEmptyRoster):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &de), errors.Is(err, matcher.ErrEmptyLabel):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	m, err := s.buildMatcher(entry.session, req.Roster)
	if err != nil {
		respondMatcherError(w, err)
		return
	}

	if req.Descriptor != nil {
		q, err := matcher.ToDescriptor(req.Descriptor)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, m.FindBestMatch(q))
		return
	}

	d, err := entry.session.GetFaceDescriptor(r.Context())
	if err != nil {
		respondDetectError(w, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result := m.FindBestMatch(*d)
	logging.Component("http").WithFields(logging.Fields{
		"session":  entry.id,
		"label":    result.Label,
		"distance": result.Distance,
	}).Debug("Match")
	respondJSON(w, http.StatusOK, result)
}
