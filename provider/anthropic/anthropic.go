// Package anthropic implements iteration.Caller on top of the Anthropic
// Claude Messages streaming API. It is grounded on
// features/model/anthropic/{client,stream}.go, adapted from the teacher's
// typed model.Request/model.Message/model.Chunk shapes to this module's
// plain message.Message and aggregate.Chunk records, and from a
// model.Streamer push interface to pipeline.Upstream's pull-based Recv.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/ratelimit"
	"github.com/agentforge/core/tool"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures a Caller.
type Options struct {
	// DefaultModel is used when no per-call model override is supplied.
	DefaultModel string
	// MaxTokens caps completion length. Required (> 0).
	MaxTokens int
	// Temperature is forwarded when > 0.
	Temperature float64
}

// Caller implements iteration.Caller against Anthropic Claude Messages.
type Caller struct {
	msg   MessagesClient
	model string
	maxTok int
	temp   float64
}

// New builds a Caller from an existing Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Caller, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if opts.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max tokens must be positive")
	}
	return &Caller{msg: msg, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Caller using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY conventions via option.WithAPIKey.
func NewFromAPIKey(apiKey string, opts Options) (*Caller, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts)
}

// Call issues a streaming Messages request and returns a pipeline.Upstream
// over the translated chunk stream, implementing iteration.Caller.
func (c *Caller) Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("anthropic: %w: %w", ratelimit.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}
	return newUpstream(ctx, stream), nil
}

// isRateLimited reports whether err is an Anthropic API error with HTTP
// status 429, the SDK's own rate-limit signal.
func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

func (c *Caller) buildParams(messages []message.Message, tools []tool.Definition) (*sdk.MessageNewParams, error) {
	msgs, system, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case message.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case message.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case message.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []tool.Definition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := decodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// Upstream adapts an Anthropic Messages streaming response to
// pipeline.Upstream, running the SDK's own stream-pull loop on a
// dedicated goroutine so Recv only ever does a channel read.
type Upstream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan aggregate.Chunk

	errMu sync.Mutex
	err   error
}

func newUpstream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *Upstream {
	cctx, cancel := context.WithCancel(ctx)
	u := &Upstream{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan aggregate.Chunk, 32)}
	go u.run()
	return u
}

// Recv implements pipeline.Upstream.
func (u *Upstream) Recv(ctx context.Context) (aggregate.Chunk, bool, error) {
	select {
	case c, ok := <-u.chunks:
		if ok {
			return c, true, nil
		}
		return aggregate.Chunk{}, false, u.getErr()
	case <-ctx.Done():
		return aggregate.Chunk{}, false, ctx.Err()
	}
}

func (u *Upstream) run() {
	defer close(u.chunks)
	defer func() { _ = u.stream.Close() }()
	defer u.cancel()

	p := &chunkProcessor{emit: u.emit}
	for u.stream.Next() {
		if err := p.handle(u.stream.Current()); err != nil {
			u.setErr(err)
			return
		}
	}
	if err := u.stream.Err(); err != nil {
		u.setErr(err)
	}
}

func (u *Upstream) emit(c aggregate.Chunk) bool {
	select {
	case u.chunks <- c:
		return true
	case <-u.ctx.Done():
		return false
	}
}

func (u *Upstream) setErr(err error) {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	if u.err == nil {
		u.err = err
	}
}

func (u *Upstream) getErr() error {
	u.errMu.Lock()
	defer u.errMu.Unlock()
	return u.err
}

type toolBuffer struct {
	id, name string
}

// chunkProcessor translates Anthropic streaming events into aggregate.Chunks,
// mirroring anthropicChunkProcessor's event switch but targeting this
// module's plain Chunk/ToolCallDelta shapes instead of model.Chunk, and
// folding thinking deltas into one inline-tag-wrapped content fragment per
// block rather than a separate channel (spec.md §4.3's tag convention).
type chunkProcessor struct {
	emit func(aggregate.Chunk) bool

	toolBlocks   map[int]*toolBuffer
	thinkingText map[int]*strings.Builder
	stopReason   string
	usage        *aggregate.Usage
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	if p.toolBlocks == nil {
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingText = make(map[int]*strings.Builder)
	}
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" || toolUse.Name == "" {
				return fmt.Errorf("anthropic stream: tool_use block missing id/name")
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, ID: toolUse.ID, Name: toolUse.Name}}})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			p.emit(aggregate.Chunk{Content: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return fmt.Errorf("anthropic stream: input_json_delta for unknown block %d", idx)
			}
			p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, Arguments: delta.PartialJSON}}})
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			b := p.thinkingText[idx]
			if b == nil {
				b = &strings.Builder{}
				p.thinkingText[idx] = b
			}
			b.WriteString(delta.Thinking)
		}
		return nil
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if b, ok := p.thinkingText[idx]; ok {
			delete(p.thinkingText, idx)
			if text := b.String(); text != "" {
				p.emit(aggregate.Chunk{Content: "<thinking>" + text + "</thinking>"})
			}
		}
		delete(p.toolBlocks, idx)
		return nil
	case sdk.MessageDeltaEvent:
		p.stopReason = mapStopReason(string(ev.Delta.StopReason))
		p.usage = &aggregate.Usage{
			PromptTokens:     int(ev.Usage.InputTokens),
			CompletionTokens: int(ev.Usage.OutputTokens),
			TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			Details: map[string]int{
				"cache_read":  int(ev.Usage.CacheReadInputTokens),
				"cache_write": int(ev.Usage.CacheCreationInputTokens),
			},
		}
		return nil
	case sdk.MessageStopEvent:
		p.emit(aggregate.Chunk{FinishReason: p.stopReason, Usage: p.usage})
		return nil
	}
	return nil
}

// mapStopReason translates Anthropic's stop_reason vocabulary into
// events.FinishReason's string values (spec.md §4.2), without importing
// the events package to keep this provider decoupled from the event
// model's higher layer.
func mapStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence", "end_turn", "":
		return "stop"
	default:
		return "stop"
	}
}
