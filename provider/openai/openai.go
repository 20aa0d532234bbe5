// Package openai implements iteration.Caller on top of the OpenAI Chat
// Completions streaming API. It is grounded on the request/response
// *shape* of features/model/openai/client.go (message/tool encoding,
// usage/finish-reason translation), but targets the official
// github.com/openai/openai-go SDK already declared in the teacher's
// go.mod rather than the unofficial github.com/sashabaranov/go-openai
// the teacher's own file actually imports — see DESIGN.md for why.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/ratelimit"
	"github.com/agentforge/core/tool"
)

// ChatClient captures the subset of the official SDK used by this
// adapter, satisfied by sdk.Client.Chat.Completions or a test double.
type ChatClient interface {
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures a Caller.
type Options struct {
	// DefaultModel is used when no per-call model override is supplied.
	DefaultModel string
	// MaxTokens caps completion length when > 0.
	MaxTokens int
	// Temperature is forwarded when > 0.
	Temperature float64
}

// Caller implements iteration.Caller against OpenAI Chat Completions.
type Caller struct {
	chat   ChatClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Caller from an existing Chat Completions client.
func New(chat ChatClient, opts Options) (*Caller, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Caller{chat: chat, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Caller using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Caller, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, opts)
}

// Call issues a streaming chat completion request and returns a
// pipeline.Upstream over the translated chunk stream, implementing
// iteration.Caller.
func (c *Caller) Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("openai: %w: %w", ratelimit.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	return newUpstream(ctx, stream), nil
}

// isRateLimited reports whether err is an OpenAI API error with HTTP
// status 429, the SDK's own rate-limit signal.
func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

func (c *Caller) buildParams(messages []message.Message, tools []tool.Definition) (*sdk.ChatCompletionNewParams, error) {
	msgs, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: msgs,
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if c.maxTok > 0 {
		params.MaxTokens = sdk.Int(int64(c.maxTok))
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case message.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case message.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			calls := make([]sdk.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool call %q arguments: %w", tc.ID, err)
				}
				calls = append(calls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := sdk.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = sdk.String(m.Content)
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case message.RoleTool:
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeTools(defs []tool.Definition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		schema, err := decodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func decodeSchema(raw json.RawMessage) (sdk.FunctionParameters, error) {
	if len(raw) == 0 {
		return sdk.FunctionParameters{"type": "object"}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return sdk.FunctionParameters(m), nil
}

// Upstream adapts an OpenAI Chat Completions streaming response to
// pipeline.Upstream, running the SDK's own stream-pull loop on a
// dedicated goroutine so Recv only ever does a channel read — the same
// shape as provider/anthropic's Upstream, since the official OpenAI SDK
// reuses the same ssestream package convention.
type Upstream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
	chunks chan aggregate.Chunk

	errMu sync.Mutex
	err   error
}

func newUpstream(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk]) *Upstream {
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

// chunkProcessor translates OpenAI Chat Completions streaming chunks into
// aggregate.Chunks. Unlike Anthropic/Bedrock's explicit block-start/stop
// events, OpenAI's delta stream carries a tool call's id/name only on the
// first delta that mentions a given index and accumulates argument
// fragments across subsequent deltas for the same index, so toolBlocks
// here tracks "have we already emitted the name for this index" rather
// than buffering a whole block.
type chunkProcessor struct {
	emit func(aggregate.Chunk) bool

	toolBlocks map[int]*toolBuffer
	usage      *aggregate.Usage
}

func (p *chunkProcessor) handle(chunk sdk.ChatCompletionChunk) error {
	if p.toolBlocks == nil {
		p.toolBlocks = make(map[int]*toolBuffer)
	}
	if u := chunk.Usage; u.TotalTokens > 0 {
		p.usage = &aggregate.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		}
	}
	for _, choice := range chunk.Choices {
		delta := choice.Delta
		if delta.Content != "" {
			p.emit(aggregate.Chunk{Content: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			tb := p.toolBlocks[idx]
			if tb == nil {
				if tc.ID == "" || tc.Function.Name == "" {
					return fmt.Errorf("openai stream: tool call delta at index %d missing id/name on first sighting", idx)
				}
				tb = &toolBuffer{id: tc.ID, name: tc.Function.Name}
				p.toolBlocks[idx] = tb
				p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, ID: tb.id, Name: tb.name}}})
			}
			if tc.Function.Arguments != "" {
				p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, Arguments: tc.Function.Arguments}}})
			}
		}
		if choice.FinishReason != "" {
			p.emit(aggregate.Chunk{FinishReason: mapFinishReason(string(choice.FinishReason)), Usage: p.usage})
		}
	}
	return nil
}

// mapFinishReason translates OpenAI's finish_reason vocabulary into
// events.FinishReason's string values, without importing the events
// package to keep this provider decoupled from the event model's higher
// layer.
func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "length"
	case "tool_calls":
		return "tool_calls"
	case "content_filter":
		return "content_filter"
	case "stop", "":
		return "stop"
	default:
		return "stop"
	}
}
