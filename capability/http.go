package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/careflow-ai/careflow/core"
)

// HTTPOptions configure the JSON-RPC endpoint client.
type HTTPOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Headers    map[string]string
}

// HTTPEndpoint talks JSON-RPC 2.0 to a capability-serving endpoint exposing
// the tools/list and tools/call methods.
type HTTPEndpoint struct {
	url    string
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPEndpoint creates an endpoint client for the given URL.
func NewHTTPEndpoint(url string, optFns ...func(o *HTTPOptions)) *HTTPEndpoint {
	opts := HTTPOptions{
		Timeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPEndpoint{url: url, client: client, opts: opts}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (e *HTTPEndpoint) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      core.NewID(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ListTools queries the endpoint for its capability list.
func (e *HTTPEndpoint) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := e.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list: decode result: %w", err)
	}

	return result.Tools, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// CallTool invokes a named capability and returns its text payload.
func (e *HTTPEndpoint) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := e.send(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("tools/call %s: decode result: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("tools/call %s: %s", name, sb.String())
	}

	return sb.String(), nil
}

// Close releases the underlying HTTP connections.
func (e *HTTPEndpoint) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
