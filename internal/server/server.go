// Package server exposes the session channel over HTTP: a server-push SSE
// stream per session plus an inbound frame endpoint, with capability
// discovery, health, and metrics alongside.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/wire"
)

// SessionIDHeader carries the minted session id on the stream response, so
// the host can address inbound frames before the first event arrives.
const SessionIDHeader = "Askdb-Session-Id"

// Server wires the session registry and capability registry into an HTTP
// handler.
type Server struct {
	sessions *session.Registry
	caps     *capability.Registry
	logger   *slog.Logger
	router   chi.Router
}

// New builds the HTTP surface.
func New(sessions *session.Registry, caps *capability.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions: sessions,
		caps:     caps,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	s.router.Get("/v1/stream", s.handleStream)
	s.router.Post("/v1/sessions/{sessionID}/frames", s.handleFrame)
	s.router.Get("/v1/capabilities", s.handleCapabilities)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleStream opens a session and streams its outbound events until the
// session closes or the connection drops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.sessions.Open(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sess.Activate()

	hb := newHeartbeatTimer(s.sessions.HeartbeatInterval())
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			sess.Abort("connection dropped")
			drain(w, flusher, sess)
			return

		case <-hb.C():
			if err := sess.EmitHeartbeat(); err != nil {
				return
			}
			hb.Reset()

		case f := <-sess.Out():
			if err := writeEvent(w, flusher, f); err != nil {
				sess.Abort("write failed")
				return
			}
			if f.Type == wire.FrameSessionClosed {
				return
			}

		case <-sess.Done():
			drain(w, flusher, sess)
			return
		}
	}
}

// drain flushes whatever is still queued after the session reached its
// terminal state, so outstanding results are delivered if the transport is
// still writable.
func drain(w http.ResponseWriter, flusher http.Flusher, sess *session.Session) {
	for {
		select {
		case f := <-sess.Out():
			if err := writeEvent(w, flusher, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handleFrame accepts one inbound frame for a session.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "no such session", http.StatusGone)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		sess.BeginClose("unreadable frame")
		http.Error(w, "unreadable frame", http.StatusBadRequest)
		return
	}

	frame, err := wire.Decode(body)
	if err != nil {
		// Malformed frames end the session, but outstanding results still
		// flush while the stream is writable.
		s.logger.Warn("malformed frame", "session_id", sessionID, "error", err)
		sess.BeginClose("malformed frame")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sess.HandleFrame(frame); err != nil {
		s.logger.Warn("frame rejected", "session_id", sessionID, "type", frame.Type, "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"capabilities": s.caps.Describe(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
