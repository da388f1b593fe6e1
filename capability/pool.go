package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/careflow-ai/careflow/logging"
)

// ErrNotInitialized is returned when the pool is used before a successful
// Initialize and lazy initialization also fails.
var ErrNotInitialized = errors.New("capability: pool not initialized")

// toolCache is the immutable snapshot of discovered capabilities. Refresh
// replaces the whole snapshot via an atomic pointer swap so readers never
// observe a partial update.
type toolCache struct {
	order []string
	tools map[string]ToolInfo
}

// PoolOptions configure a Pool.
type PoolOptions struct {
	Logger logging.Logger
}

// Pool is the shared registry of remote capabilities. It opens one connection
// to the serving endpoint on first use, guarded so concurrent first callers
// do not race to open duplicates, and caches the discovered tool list.
// Construct one at the composition root and pass it to every consumer.
type Pool struct {
	endpoint Endpoint
	logger   logging.Logger

	initMu sync.Mutex
	cache  atomic.Pointer[toolCache]
}

// NewPool creates a pool over the given endpoint. The endpoint is not
// contacted until Initialize or the first lazy use.
func NewPool(endpoint Endpoint, optFns ...func(o *PoolOptions)) *Pool {
	opts := PoolOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pool{endpoint: endpoint, logger: opts.Logger}
}

// Initialize connects to the endpoint and caches its capability list.
// Concurrent callers are serialized; only the first performs the fetch.
// On failure the pool stays uninitialized so a later call can retry.
func (p *Pool) Initialize(ctx context.Context) error {
	if p.cache.Load() != nil {
		return nil
	}

	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.cache.Load() != nil {
		return nil
	}

	cache, err := p.fetch(ctx)
	if err != nil {
		return fmt.Errorf("capability: initialize: %w", err)
	}

	p.cache.Store(cache)
	p.logger.Info("capability.pool.initialized", "tool_count", len(cache.order))

	return nil
}

func (p *Pool) fetch(ctx context.Context) (*toolCache, error) {
	infos, err := p.endpoint.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	cache := &toolCache{tools: make(map[string]ToolInfo, len(infos))}
	for _, info := range infos {
		if _, dup := cache.tools[info.Name]; dup {
			continue
		}
		cache.order = append(cache.order, info.Name)
		cache.tools[info.Name] = info
	}
	return cache, nil
}

func (p *Pool) ensure(ctx context.Context) (*toolCache, error) {
	if c := p.cache.Load(); c != nil {
		return c, nil
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	c := p.cache.Load()
	if c == nil {
		return nil, ErrNotInitialized
	}
	return c, nil
}

// Tools returns the intersection of the cache with the allow-list, in
// discovery order. A nil allow-list returns every cached capability.
// Requested names absent from the cache are logged, not failed.
func (p *Pool) Tools(ctx context.Context, allowed []string) ([]ToolInfo, error) {
	cache, err := p.ensure(ctx)
	if err != nil {
		return nil, err
	}

	if allowed == nil {
		out := make([]ToolInfo, 0, len(cache.order))
		for _, name := range cache.order {
			out = append(out, cache.tools[name])
		}
		return out, nil
	}

	out := make([]ToolInfo, 0, len(allowed))
	for _, name := range allowed {
		info, ok := cache.tools[name]
		if !ok {
			p.logger.Warn("capability.pool.unknown_tool", "tool", name)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Execute runs each call in order, producing one Result per call. A failed
// call yields an error Result carrying the message; it never aborts the
// remainder of the batch.
func (p *Pool) Execute(ctx context.Context, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, p.executeOne(ctx, call))
	}
	return results
}

func (p *Pool) executeOne(ctx context.Context, call Call) Result {
	cache, err := p.ensure(ctx)
	if err != nil {
		return Result{CallID: call.CallID, Name: call.Name, Content: err.Error(), Status: StatusError}
	}

	if _, ok := cache.tools[call.Name]; !ok {
		p.logger.Warn("capability.pool.unknown_tool", "tool", call.Name, "call_id", call.CallID)
		return Result{
			CallID:  call.CallID,
			Name:    call.Name,
			Content: fmt.Sprintf("capability %q is not available", call.Name),
			Status:  StatusError,
		}
	}

	content, err := p.endpoint.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		p.logger.Error("capability.pool.call_failed", "tool", call.Name, "call_id", call.CallID, "error", err)
		return Result{CallID: call.CallID, Name: call.Name, Content: err.Error(), Status: StatusError}
	}

	return Result{CallID: call.CallID, Name: call.Name, Content: content, Status: StatusOK}
}

// HealthCheck re-queries the endpoint's capability list as a liveness probe.
// It does not touch the cache.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if _, err := p.endpoint.ListTools(ctx); err != nil {
		return fmt.Errorf("capability: health check: %w", err)
	}
	return nil
}

// Refresh re-fetches the capability list and atomically replaces the cache.
func (p *Pool) Refresh(ctx context.Context) error {
	cache, err := p.fetch(ctx)
	if err != nil {
		return fmt.Errorf("capability: refresh: %w", err)
	}

	p.cache.Store(cache)
	p.logger.Info("capability.pool.refreshed", "tool_count", len(cache.order))

	return nil
}

// Close releases the underlying endpoint connection.
func (p *Pool) Close() error { return p.endpoint.Close() }

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// SetDefault installs the process-wide pool. Call once from the composition
// root; consumers that cannot take an injected pool may read it via Default.
func SetDefault(p *Pool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultPool = p
}

// Default returns the process-wide pool, or nil if none has been installed.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultPool
}
