package server

import (
	"net/http"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamEvent is one websocket message. Match is nil when no roster is
// available; Detection is nil when no face was found.
type StreamEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Face      bool                   `json:"face"`
	Match     *matcher.Match         `json:"match,omitempty"`
	Detection *recognition.Detection `json:"detection,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	log := logging.Component("http").WithField("session", entry.id)

	// The roster is snapshotted once per connection.
	m, err := s.buildMatcher(entry.session, nil)
	if err != nil {
		log.WithError(err).Debug("streaming without matcher")
		m = nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug("stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ticker.C:
			event := StreamEvent{Timestamp: time.Now()}
			det, err := entry.session.DetectFace(r.Context())
			switch {
			case err != nil:
				event.Error = err.Error()
			case det != nil:
				event.Face = true
				event.Detection = det
				if m != nil {
					result := m.FindBestMatch(det.Descriptor)
					event.Match = &result
				}
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("stream write failed")
				return
			}
		}
	}
}
