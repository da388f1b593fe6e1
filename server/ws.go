// Package server exposes consultations over a WebSocket endpoint. Each
// inbound frame is one user turn; the resulting event stream is forwarded to
// the client frame by frame as the turn executes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/runner"
)

// Inbound frame types.
const (
	frameMessage    = "message"
	frameNewSession = "new_session"
	frameEndSession = "end_session"
)

// turnTimeout bounds a single turn's execution.
const turnTimeout = 5 * time.Minute

// inboundFrame is one client request.
type inboundFrame struct {
	Type      string             `json:"type,omitempty"` // message (default), new_session or end_session
	SessionID string             `json:"session_id"`
	UserID    string             `json:"user_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Image     *core.ImagePayload `json:"image,omitempty"`
}

// ackFrame confirms a non-turn request.
type ackFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// Options holds configuration overrides passed to New().
type Options struct {
	Logger logging.Logger
	// CheckOrigin overrides the upgrader's origin policy. The default
	// accepts every origin; front it with a gateway in production.
	CheckOrigin func(r *http.Request) bool
}

// Server bridges WebSocket connections to the turn runner.
type Server struct {
	runner   *runner.Runner
	logger   logging.Logger
	upgrader websocket.Upgrader

	httpMu  sync.Mutex
	httpSrv *http.Server
}

// New creates a WebSocket server over the given runner.
func New(r *runner.Runner, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		CheckOrigin: func(*http.Request) bool { return true },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{
		runner: r,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Handler returns the HTTP handler serving /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe starts the HTTP server on addr and blocks until shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.httpMu.Lock()
	s.httpSrv = srv
	s.httpMu.Unlock()

	s.logger.Info("server.listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.httpSrv
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server.upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	// Concurrent turns on one connection interleave their frames; the write
	// mutex keeps individual frames intact.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("server.read_failed", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = writeJSON(ackFrame{Type: "error", Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case frameNewSession:
			s.newSession(frame, writeJSON)
		case frameEndSession:
			s.endSession(frame, writeJSON)
		case frameMessage, "":
			s.startTurn(frame, writeJSON)
		default:
			_ = writeJSON(ackFrame{Type: "error", SessionID: frame.SessionID, Error: "unknown frame type"})
		}
	}
}

func (s *Server) newSession(frame inboundFrame, writeJSON func(any) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ack := ackFrame{Type: "session_reset", SessionID: frame.SessionID}
	if err := s.runner.NewSession(ctx, frame.SessionID); err != nil {
		s.logger.Error("server.new_session_failed", "session_id", frame.SessionID, "error", err)
		ack = ackFrame{Type: "error", SessionID: frame.SessionID, Error: err.Error()}
	}
	_ = writeJSON(ack)
}

func (s *Server) endSession(frame inboundFrame, writeJSON func(any) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ack := ackFrame{Type: "session_ended", SessionID: frame.SessionID}
	if err := s.runner.EndSession(ctx, frame.SessionID); err != nil {
		s.logger.Error("server.end_session_failed", "session_id", frame.SessionID, "error", err)
		ack = ackFrame{Type: "error", SessionID: frame.SessionID, Error: err.Error()}
	}
	_ = writeJSON(ack)
}

func (s *Server) startTurn(frame inboundFrame, writeJSON func(any) error) {
	// The turn runs on a background context: a dropped connection must not
	// cancel a consultation mid-merge.
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)

	events, err := s.runner.RunTurn(ctx, runner.Inbound{
		SessionID: frame.SessionID,
		UserID:    frame.UserID,
		Text:      frame.Text,
		Image:     frame.Image,
	})
	if err != nil {
		cancel()
		_ = writeJSON(ackFrame{Type: "error", SessionID: frame.SessionID, Error: err.Error()})
		return
	}

	go func() {
		defer cancel()
		for ev := range events {
			if err := writeJSON(ev); err != nil {
				// Client gone; drain so the turn still completes and persists.
				for range events {
				}
				return
			}
		}
	}()
}
