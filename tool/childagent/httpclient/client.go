// Package httpclient implements childagent.Caller over JSON-RPC-style HTTP,
// mirroring runtime/a2a/httpclient/client.go's request/response shape and
// bearer-token option, narrowed to the single "agent/invoke" method this
// module's agent-as-tool call needs.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/agentforge/core/tool/childagent"
)

// Option configures a Client.
type Option func(*Client)

// Client implements childagent.Caller over JSON-RPC HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	headers  http.Header
	id       uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("childagent error %d: %s", e.Code, e.Message)
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer
// token with every request.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// New constructs a Client posting agent/invoke requests to endpoint.
func New(endpoint string, opts ...Option) *Client {
	cl := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl
}

var _ childagent.Caller = (*Client)(nil)

func (c *Client) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

type invokeResult struct {
	Content      string `json:"content"`
	FinishReason string `json:"finishReason"`
}

// SendTask posts req to the remote agent/invoke JSON-RPC endpoint and
// decodes its final answer.
func (c *Client) SendTask(ctx context.Context, req childagent.SendTaskRequest) (childagent.SendTaskResponse, error) {
	params := map[string]any{
		"agentId":      req.AgentID,
		"parentTaskId": req.ParentTaskID,
		"path":         req.Path,
		"arguments":    json.RawMessage(req.Arguments),
	}
	rpcReq := rpcRequest{JSONRPC: "2.0", Method: "agent/invoke", ID: c.nextID(), Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return childagent.SendTaskResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return childagent.SendTaskResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return childagent.SendTaskResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return childagent.SendTaskResponse{}, fmt.Errorf("childagent http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return childagent.SendTaskResponse{}, err
	}
	if rpcResp.Error != nil {
		return childagent.SendTaskResponse{}, rpcResp.Error
	}

	var result invokeResult
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return childagent.SendTaskResponse{}, err
		}
	}
	return childagent.SendTaskResponse{Content: result.Content, FinishReason: result.FinishReason}, nil
}
