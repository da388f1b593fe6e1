// Package careflow provides a high-level façade over the consultation graph
// and its services (models, capabilities, checkpoints & logging). Most
// applications interact with this package by:
//  1. Creating a Careflow via New() (optionally overriding default in-memory services)
//  2. Streaming turns (ChatStream) or collecting them synchronously (Chat)
//  3. Ending sessions (EndSession) to archive durable facts into the profile
//
// The façade delegates orchestration to runner.Runner while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply Redis checkpoints, a
// Supabase profile store and a structured logger.
package careflow

import (
	"context"

	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/checkpoint"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/graph"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/profile"
	"github.com/careflow-ai/careflow/runner"
)

// Options configures the Careflow instance.
type Options struct {
	// Reasoner handles the tool-enabled conversational calls.
	Reasoner model.Model
	// Decider handles the structured-decision calls. Defaults to Reasoner.
	Decider model.Model

	// Capabilities serves the knowledge-base tools. Defaults to an empty
	// local endpoint.
	Capabilities *capability.Pool

	// Checkpoints persists session state between turns (defaults to an
	// in-memory implementation over Profiles).
	Checkpoints checkpoint.Store
	// Profiles is the long-term patient store used when Checkpoints is not
	// supplied (defaults to in-memory). Sessions can only start for users
	// with a profile record.
	Profiles profile.Store

	// EventBufferSize sets the channel buffer of each turn's event stream.
	EventBufferSize int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Careflow is the high-level façade aggregating the routing graph and its services.
type Careflow struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new Careflow instance with optional overrides. Any unset
// service is initialized with an in-memory implementation; the model defaults
// to a mock suitable only for tests.
func New(optFns ...func(o *Options)) *Careflow {
	opts := Options{
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Reasoner == nil {
		opts.Reasoner = model.NewMockModel("mock")
	}
	if opts.Decider == nil {
		opts.Decider = opts.Reasoner
	}
	if opts.Capabilities == nil {
		opts.Capabilities = capability.NewPool(capability.NewLocalEndpoint())
	}
	if opts.Profiles == nil {
		opts.Profiles = profile.NewMemoryStore()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewMemoryStore(opts.Profiles)
	}

	g := graph.New(opts.Reasoner, opts.Decider, opts.Capabilities, func(o *graph.Options) {
		o.Logger = opts.Logger
	})

	r := runner.New(g, opts.Checkpoints, func(o *runner.Options) {
		o.EventBufferSize = opts.EventBufferSize
		o.Logger = opts.Logger
	})

	return &Careflow{opts: opts, runner: r}
}

// Runner exposes the underlying turn runner, e.g. for mounting a server.
func (c *Careflow) Runner() *runner.Runner { return c.runner }

// NewSessionID generates an identifier for a fresh session.
func (c *Careflow) NewSessionID() string { return core.NewID() }

// ChatStream starts an asynchronous turn returning its event stream.
func (c *Careflow) ChatStream(ctx context.Context, in runner.Inbound) (<-chan core.Event, error) {
	return c.runner.RunTurn(ctx, in)
}

// Chat is a synchronous helper that drains the turn's event stream and
// returns the final user-facing response along with every event.
func (c *Careflow) Chat(ctx context.Context, in runner.Inbound) (string, []core.Event, error) {
	eventsCh, err := c.runner.RunTurn(ctx, in)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	var response string
	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return response, events, ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				return response, events, nil
			}
			events = append(events, ev)
			if ev.Type == core.EventTurnEnd {
				response = ev.Response
			}
		}
	}
}

// NewSession discards any checkpoint left over under the session identifier
// without archiving, so the next turn starts from the long-term profile.
func (c *Careflow) NewSession(ctx context.Context, sessionID string) error {
	return c.runner.NewSession(ctx, sessionID)
}

// EndSession archives the session into the long-term profile store and
// discards its checkpoint.
func (c *Careflow) EndSession(ctx context.Context, sessionID string) error {
	return c.runner.EndSession(ctx, sessionID)
}

// Close releases the capability pool's endpoint connection.
func (c *Careflow) Close() error {
	return c.opts.Capabilities.Close()
}
