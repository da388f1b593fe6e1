// Package capability provides the pooled registry of remote named
// capabilities shared across agent nodes: connection lifecycle, tool cache,
// allow-list filtering and batch execution with per-call error isolation.
package capability

import "context"

// ToolInfo describes a named capability discovered from the serving endpoint.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Call is one requested capability invocation.
type Call struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the isolated outcome of a single call. On error Content carries
// the error message and Status is "error"; one call's failure never aborts
// the batch it was part of.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// IsError reports whether the call failed.
func (r Result) IsError() bool { return r.Status == StatusError }

// Endpoint is a client of a capability-serving endpoint. The pool is a
// consumer of this interface only; capability logic lives on the other side.
type Endpoint interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}
