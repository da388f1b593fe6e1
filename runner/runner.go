// Package runner coordinates consultation turns: it loads or seeds the
// session checkpoint, drives the routing graph over it, streams execution
// events to the caller and persists the updated state once the turn settles.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/careflow-ai/careflow/checkpoint"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/graph"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/session"
)

// Inbound is one user turn entering the system.
type Inbound struct {
	SessionID string
	UserID    string
	Text      string
	Image     *core.ImagePayload
}

// Options holds configuration overrides passed to New().
type Options struct {
	// EventBufferSize sets channel buffering for the per-turn event stream.
	EventBufferSize int
	Logger          logging.Logger
}

// Runner executes turns. Turns over distinct sessions run concurrently;
// turns over the same session are serialized so state merges stay ordered.
type Runner struct {
	graph       *graph.Graph
	checkpoints checkpoint.Store
	bufferSize  int
	logger      logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Runner over the routing graph and checkpoint store.
func New(g *graph.Graph, checkpoints checkpoint.Store, optFns ...func(o *Options)) *Runner {
	opts := Options{
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{
		graph:       g,
		checkpoints: checkpoints,
		bufferSize:  opts.EventBufferSize,
		logger:      opts.Logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (r *Runner) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// RunTurn executes one turn asynchronously and returns its event stream.
// The channel closes after the terminal turn_end (or error) event. A slow
// or detached consumer never blocks the turn; undeliverable events are
// dropped.
func (r *Runner) RunTurn(ctx context.Context, in Inbound) (<-chan core.Event, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("runner: session id is required")
	}
	if in.Text == "" && in.Image == nil {
		return nil, fmt.Errorf("runner: turn needs text or an image")
	}

	events := make(chan core.Event, r.bufferSize)
	emit := func(ev core.Event) {
		select {
		case events <- ev:
		default:
			r.logger.Debug("runner.event_dropped", "session_id", ev.SessionID, "type", string(ev.Type))
		}
	}

	go func() {
		defer close(events)

		lock := r.sessionLock(in.SessionID)
		lock.Lock()
		defer lock.Unlock()

		emit(core.NewTurnStartEvent(in.SessionID))

		s, err := r.checkpoints.LoadOrSeed(ctx, in.SessionID, in.UserID)
		if err != nil {
			r.logger.Error("runner.load_failed", "session_id", in.SessionID, "error", err)
			emit(core.NewErrorEvent(in.SessionID, err.Error()))
			return
		}

		userMsg := core.NewUserMessage(in.Text)
		if in.Image != nil {
			userMsg = core.NewUserImageMessage(in.Text, in.Image)
		}
		s.AppendMessage(userMsg)
		s.AppendUserFacing(userMsg)

		if err := r.graph.Run(ctx, s, emit); err != nil {
			r.logger.Error("runner.turn_failed", "session_id", in.SessionID, "error", err)
			emit(core.NewErrorEvent(in.SessionID, err.Error()))
			// The failed turn is never persisted; report the checkpoint the
			// next turn will actually resume from.
			if persisted, loadErr := r.checkpoints.LoadOrSeed(ctx, in.SessionID, in.UserID); loadErr == nil {
				s = persisted
			}
			emit(core.NewTurnEndEvent(in.SessionID, lastResponse(s), s.CurrentAgent, routingFlags(s)))
			return
		}

		if err := r.checkpoints.Persist(ctx, s); err != nil {
			r.logger.Error("runner.persist_failed", "session_id", in.SessionID, "error", err)
			emit(core.NewErrorEvent(in.SessionID, err.Error()))
		}

		emit(core.NewTurnEndEvent(in.SessionID, lastResponse(s), s.CurrentAgent, routingFlags(s)))
	}()

	return events, nil
}

// NewSession discards any existing checkpoint for the session without
// archiving, so the next turn starts fresh from the long-term profile alone.
func (r *Runner) NewSession(ctx context.Context, sessionID string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return r.checkpoints.Purge(ctx, sessionID)
}

// EndSession archives the session's durable facts into the long-term profile
// and discards the checkpoint.
func (r *Runner) EndSession(ctx context.Context, sessionID string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := r.checkpoints.ArchiveAndPurge(ctx, sessionID)

	r.mu.Lock()
	delete(r.locks, sessionID)
	r.mu.Unlock()

	return err
}

// lastResponse returns the newest assistant entry of the user-facing log.
func lastResponse(s *session.State) string {
	for i := len(s.UserMessages) - 1; i >= 0; i-- {
		if s.UserMessages[i].Role == core.RoleAssistant {
			return s.UserMessages[i].Content
		}
	}
	return ""
}

func routingFlags(s *session.State) map[string]bool {
	return map[string]bool{
		"call_trigger":            s.CallTrigger,
		"sufficient_symptom_data": s.SufficientSymptomData,
		"urgency_checked":         s.UrgencyChecked,
		"prescription_processed":  s.PrescriptionProcessed,
	}
}
