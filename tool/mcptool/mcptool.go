// Package mcptool adapts an external MCP (Model Context Protocol) server,
// reached over stdio, into a tool.Provider. It is grounded on
// kadirpekel-hector's pkg/tool/mcptoolset, which wraps
// github.com/mark3labs/mcp-go's client for the same purpose; this package
// narrows that reference to the stdio transport and the subset of
// lifecycle (Start → Initialize → ListTools → CallTool) this module's
// turn loop actually drives.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentforge/core/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Config describes how to launch and identify this module against an MCP
// server child process.
type Config struct {
	// Command is the executable to run as the MCP server.
	Command string
	// Args are passed to Command.
	Args []string
	// Env is appended to the child process's environment, "KEY=VALUE" per
	// entry.
	Env []string
	// ClientName/ClientVersion identify this module during MCP's
	// initialize handshake.
	ClientName    string
	ClientVersion string
}

// Provider is a tool.Provider backed by one MCP server process. The
// connection is established lazily on first use and reused across calls;
// Close tears it down.
type Provider struct {
	name string
	cfg  Config

	mu      sync.Mutex
	client  *client.Client
	tools   map[string]tool.Definition
	order   []string
	connErr error
}

// New returns a Provider identified by name, launching cfg.Command on
// first use.
func New(name string, cfg Config) *Provider {
	return &Provider{name: name, cfg: cfg}
}

func (p *Provider) Name() string { return p.name }

// connect starts the child process and completes the MCP initialize and
// tools/list round trips exactly once; subsequent calls reuse the result
// (including a prior failure, so a dead server doesn't retry every call).
func (p *Provider) connect(ctx context.Context) (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.connErr != nil {
		return nil, p.connErr
	}

	c, err := client.NewStdioMCPClient(p.cfg.Command, p.cfg.Env, p.cfg.Args...)
	if err != nil {
		p.connErr = fmt.Errorf("mcptool: create %q: %w", p.cfg.Command, err)
		return nil, p.connErr
	}
	if err := c.Start(ctx); err != nil {
		p.connErr = fmt.Errorf("mcptool: start %q: %w", p.cfg.Command, err)
		return nil, p.connErr
	}

	clientName := p.cfg.ClientName
	if clientName == "" {
		clientName = p.name
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: p.cfg.ClientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		p.connErr = fmt.Errorf("mcptool: initialize %q: %w", p.name, err)
		return nil, p.connErr
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		p.connErr = fmt.Errorf("mcptool: list tools on %q: %w", p.name, err)
		return nil, p.connErr
	}

	tools := make(map[string]tool.Definition, len(listed.Tools))
	order := make([]string, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil
		}
		tools[t.Name] = tool.Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		}
		order = append(order, t.Name)
	}

	p.client = c
	p.tools = tools
	p.order = order
	return p.client, nil
}

// ListTools returns the definitions this server advertised at connect
// time.
func (p *Provider) ListTools(ctx context.Context) ([]tool.Definition, error) {
	if _, err := p.connect(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tool.Definition, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name])
	}
	return out, nil
}

// GetTool reports whether name was among the tools this server advertised.
// A connection failure is treated as "not found" here; ExecuteTool surfaces
// the real error for a call actually routed to this provider.
func (p *Provider) GetTool(ctx context.Context, name string) (tool.Definition, bool) {
	if _, err := p.connect(ctx); err != nil {
		return tool.Definition{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	def, ok := p.tools[name]
	return def, ok
}

// ExecuteTool forwards call to the MCP server's tools/call and translates
// its result. A tool-level failure (CallToolResult.IsError) becomes a
// Result{Err: ...} rather than a Go error, matching tool.Result's contract
// that dispatch never aborts the turn for a tool's own failure.
func (p *Provider) ExecuteTool(ctx context.Context, call tool.Call, _ func(tool.Progress)) tool.Result {
	c, err := p.connect(ctx)
	if err != nil {
		return tool.Result{Err: err}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = call.Arguments

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return tool.Result{Err: fmt.Errorf("mcptool: call %q: %w", call.Name, err)}
	}

	text := contentText(res.Content)
	if res.IsError {
		return tool.Result{Err: fmt.Errorf("mcptool: tool %q reported an error: %s", call.Name, text)}
	}
	return tool.Result{Value: text}
}

// Close tears down the underlying MCP connection, if one was established.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// contentText concatenates the text parts of an MCP tool result, ignoring
// non-text content blocks (images, embedded resources) this module's
// text-oriented turn loop has no use for.
func contentText(content []mcp.Content) string {
	out := ""
	for _, block := range content {
		if tc, ok := block.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
