// Package server exposes face sessions over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/camera"
	"github.com/MrCodeEU/faceroll/pkg/config"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/models"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/MrCodeEU/faceroll/pkg/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// RosterSource supplies the default roster for match requests.
type RosterSource interface {
	Roster() ([]matcher.PersonRecord, error)
}

// Deps are the collaborators every session is built from.
type Deps struct {
	Models     *recognition.ModelSet
	Repository models.Repository
	Device     camera.Device
	Roster     RosterSource
	Options    session.Options
	// ModelDir is served under /models/ when set.
	ModelDir string
}

type sessionEntry struct {
	id      string
	session *session.Session
	surface *camera.Surface
	created time.Time
}

// Server represents the web server
type Server struct {
	deps           Deps
	router         *chi.Mux
	httpServer     *http.Server
	sessions       cmap.ConcurrentMap[string, *sessionEntry]
	streamInterval time.Duration
}

// New creates a new web server
func New(cfg config.ServerConfig, deps Deps) *Server {
	r := chi.NewRouter()

	interval := time.Duration(cfg.StreamIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	s := &Server{
		deps:           deps,
		router:         r,
		sessions:       cmap.New[*sessionEntry](),
		streamInterval: interval,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)

	if s.deps.ModelDir != "" {
		s.router.Handle("/models/*", http.StripPrefix("/models/", http.FileServer(http.Dir(s.deps.ModelDir))))
	}

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Get("/descriptor", s.descriptor)
			r.Get("/detection", s.detection)
			r.Post("/match", s.match)
			r.Get("/stream", s.stream)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logging.Component("http").Infof("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("http").Info("Shutting down server")

	for _, id := range s.sessions.Keys() {
		s.closeSession(id)
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Count()
}

func (s *Server) closeSession(id string) bool {
	entry, ok := s.sessions.Pop(id)
	if !ok {
		return false
	}
	if err := entry.session.StopCamera(); err != nil {
		logging.Component("http").WithError(err).WithField("session", id).Warn("stopping camera failed")
	}
	entry.surface.Release()
	return true
}

// requestLogger logs each request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Component("http").WithFields(logging.Fields{
			"method":     r.Method,
			"path":       sanitizeForLog(r.URL.Path),
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": chiMiddleware.GetReqID(r.Context()),
			"remote":     r.RemoteAddr,
		}).Info("request")
	})
}
