package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEndpoint tracks ListTools invocations and can be told to fail.
type countingEndpoint struct {
	*LocalEndpoint
	listCalls atomic.Int32
	failList  atomic.Bool
}

func newCountingEndpoint() *countingEndpoint {
	e := &countingEndpoint{LocalEndpoint: NewLocalEndpoint()}
	e.Register(ToolInfo{Name: "alpha", Description: "first"}, func(_ context.Context, _ map[string]any) (string, error) {
		return "alpha-result", nil
	})
	e.Register(ToolInfo{Name: "beta", Description: "second"}, func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("beta exploded")
	})
	return e
}

func (e *countingEndpoint) ListTools(ctx context.Context) ([]ToolInfo, error) {
	e.listCalls.Add(1)
	if e.failList.Load() {
		return nil, errors.New("endpoint down")
	}
	return e.LocalEndpoint.ListTools(ctx)
}

func TestPool_InitializeOnceUnderConcurrency(t *testing.T) {
	ep := newCountingEndpoint()
	pool := NewPool(ep)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pool.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), ep.listCalls.Load())
}

func TestPool_InitializeFailureIsRetryable(t *testing.T) {
	ep := newCountingEndpoint()
	ep.failList.Store(true)
	pool := NewPool(ep)

	err := pool.Initialize(context.Background())
	require.Error(t, err)

	ep.failList.Store(false)
	require.NoError(t, pool.Initialize(context.Background()))

	tools, err := pool.Tools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestPool_ToolsAllowListFilter(t *testing.T) {
	pool := NewPool(newCountingEndpoint())

	// nil allow-list returns everything in discovery order
	all, err := pool.Tools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)

	// unknown names are logged and skipped, not failed
	subset, err := pool.Tools(context.Background(), []string{"beta", "nonexistent"})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, "beta", subset[0].Name)

	// empty (non-nil) allow-list returns nothing
	none, err := pool.Tools(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPool_ExecuteIsolatesFailures(t *testing.T) {
	pool := NewPool(newCountingEndpoint())

	results := pool.Execute(context.Background(), []Call{
		{CallID: "c1", Name: "alpha"},
		{CallID: "c2", Name: "beta"},
		{CallID: "c3", Name: "missing"},
		{CallID: "c4", Name: "alpha"},
	})

	require.Len(t, results, 4)

	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, "alpha-result", results[0].Content)

	assert.Equal(t, StatusError, results[1].Status)
	assert.Contains(t, results[1].Content, "beta exploded")

	assert.Equal(t, StatusError, results[2].Status)
	assert.Contains(t, results[2].Content, "missing")

	// failure of c2/c3 never aborts the batch
	assert.Equal(t, StatusOK, results[3].Status)
	assert.Equal(t, "c4", results[3].CallID)
}

func TestPool_RefreshSwapsCache(t *testing.T) {
	ep := newCountingEndpoint()
	pool := NewPool(ep)
	require.NoError(t, pool.Initialize(context.Background()))

	ep.Register(ToolInfo{Name: "gamma"}, func(_ context.Context, _ map[string]any) (string, error) {
		return "gamma-result", nil
	})

	// not visible before refresh
	tools, err := pool.Tools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	require.NoError(t, pool.Refresh(context.Background()))

	tools, err = pool.Tools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, tools, 3)
}

func TestPool_HealthCheck(t *testing.T) {
	ep := newCountingEndpoint()
	pool := NewPool(ep)

	assert.NoError(t, pool.HealthCheck(context.Background()))

	ep.failList.Store(true)
	assert.Error(t, pool.HealthCheck(context.Background()))
}

func TestLocalEndpoint_CallUnknown(t *testing.T) {
	ep := NewLocalEndpoint()
	_, err := ep.CallTool(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestDefaultPoolAccessor(t *testing.T) {
	t.Cleanup(func() { SetDefault(nil) })

	pool := NewPool(newCountingEndpoint())
	SetDefault(pool)
	assert.Same(t, pool, Default())
}

func TestPool_LazyInitializeViaTools(t *testing.T) {
	ep := newCountingEndpoint()
	pool := NewPool(ep)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Tools(context.Background(), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ep.listCalls.Load(), fmt.Sprintf("expected one connection attempt, got %d", ep.listCalls.Load()))
}
