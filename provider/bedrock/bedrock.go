// Package bedrock implements iteration.Caller on top of the AWS Bedrock
// Converse streaming API. It is grounded on
// features/model/bedrock/{client,stream}.go, trimmed from the teacher's
// ledger-rehydration, cache-checkpoint, and dual canonical/sanitized
// tool-name bookkeeping (this module's tool.Definition has no dotted
// toolset-namespaced canonical ID to round-trip) down to the same plain
// message.Message/aggregate.Chunk shapes used by provider/anthropic.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/ratelimit"
	"github.com/agentforge/core/tool"
)

// RuntimeClient is the subset of *bedrockruntime.Client this adapter needs,
// letting tests substitute a fake.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures a Caller.
type Options struct {
	// Model is the Bedrock model identifier (e.g. an Anthropic or Nova
	// inference profile ARN). Required.
	Model string
	// MaxTokens caps completion length when > 0.
	MaxTokens int
	// Temperature is forwarded when > 0.
	Temperature float32
}

// Caller implements iteration.Caller against Bedrock's Converse API.
type Caller struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Caller from an existing Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Caller, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Caller{runtime: runtime, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Call issues a ConverseStream request and returns a pipeline.Upstream over
// the translated chunk stream, implementing iteration.Caller.
func (c *Caller) Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	conv, system, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	toolConfig, nameMap, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: conv,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("bedrock: %w: %w", ratelimit.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newUpstream(ctx, stream, nameMap), nil
}

func (c *Caller) inferenceConfig() *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if c.maxTok > 0 {
		cfg.MaxTokens = aws.Int32(int32(c.maxTok))
	}
	if c.temp > 0 {
		cfg.Temperature = aws.Float32(c.temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// isRateLimited reports whether err represents a Bedrock throttling
// response, checked both via the provider error code and the raw HTTP 429
// so callers can retry regardless of which layer surfaces the condition.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func encodeMessages(msgs []message.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case message.RoleUser:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case message.RoleAssistant:
			blocks := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(sanitizeToolName(tc.Name)),
						Input:     lazyDocument(tc.Arguments),
					},
				})
			}
			if len(blocks) > 0 {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		case message.RoleTool:
			conversation = append(conversation, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

// encodeTools builds a Bedrock ToolConfiguration and returns a map from the
// provider-visible sanitized name back to the tool.Definition name the rest
// of this module expects, so the chunk processor can undo the sanitization
// before emitting a ToolCallDelta.
func encodeTools(defs []tool.Definition) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	nameMap := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := nameMap[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		nameMap[sanitized] = def.Name
		schema := lazyDocument(rawToMap(def.Parameters))
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schema},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nameMap, nil
}

// sanitizeToolName maps a tool name to Bedrock's allowed character set
// ([a-zA-Z0-9_-]+, <=64 chars), truncating with a stable hash suffix when
// the name is too long so collisions stay deterministic across calls.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	const maxLen = 64
	if len(out) <= maxLen {
		return out
	}
	const hashLen = 8
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	return out[:maxLen-hashLen-1] + "_" + suffix
}

func rawToMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

// Upstream adapts a Bedrock ConverseStream event stream to
// pipeline.Upstream, running the AWS SDK's event channel drain on a
// dedicated goroutine so Recv only ever does a channel read.
type Upstream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream
	chunks chan aggregate.Chunk

	errMu sync.Mutex
	err   error
}

func newUpstream(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) *Upstream {
	cctx, cancel := context.WithCancel(ctx)
	u := &Upstream{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan aggregate.Chunk, 32)}
	go u.run(nameMap)
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

func (u *Upstream) run(nameMap map[string]string) {
	defer close(u.chunks)
	defer func() { _ = u.stream.Close() }()
	defer u.cancel()

	p := &chunkProcessor{emit: u.emit, nameMap: nameMap}
	events := u.stream.Events()
	for {
		select {
		case <-u.ctx.Done():
			u.setErr(u.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := u.stream.Err(); err != nil {
					u.setErr(fmt.Errorf("bedrock stream: %w", err))
				}
				return
			}
			if err := p.handle(event); err != nil {
				u.setErr(err)
				return
			}
		}
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

// chunkProcessor translates Bedrock ConverseStream events into
// aggregate.Chunks, mirroring the teacher's bedrockStreamer chunkProcessor
// but dropping citation/reasoning-signature bookkeeping that has no
// consumer in this module and folding reasoning deltas into one
// inline-tag-wrapped content fragment per block, matching provider/anthropic.
type chunkProcessor struct {
	emit    func(aggregate.Chunk) bool
	nameMap map[string]string

	toolBlocks   map[int]*toolBuffer
	thinkingText map[int]*strings.Builder
	stopReason   string
	usage        *aggregate.Usage
}

func (p *chunkProcessor) handle(event any) error {
	if p.toolBlocks == nil {
		p.toolBlocks = make(map[int]*toolBuffer)
		p.thinkingText = make(map[int]*strings.Builder)
	}
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := int(ptrValue(ev.Value.ContentBlockIndex))
		start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok || start == nil {
			return nil
		}
		if start.Value.ToolUseId == nil || start.Value.Name == nil {
			return fmt.Errorf("bedrock stream: tool_use block missing id/name")
		}
		id, rawName := *start.Value.ToolUseId, *start.Value.Name
		name, ok := p.nameMap[rawName]
		if !ok {
			name = rawName
		}
		p.toolBlocks[idx] = &toolBuffer{id: id, name: name}
		p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, ID: id, Name: name}}})
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := int(ptrValue(ev.Value.ContentBlockIndex))
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			p.emit(aggregate.Chunk{Content: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil || *delta.Value.Input == "" {
				return nil
			}
			if p.toolBlocks[idx] == nil {
				return fmt.Errorf("bedrock stream: tool input delta for unknown block %d", idx)
			}
			p.emit(aggregate.Chunk{ToolCalls: []aggregate.ToolCallDelta{{Index: idx, Arguments: *delta.Value.Input}}})
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			text, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText)
			if !ok || text.Value == "" {
				return nil
			}
			b := p.thinkingText[idx]
			if b == nil {
				b = &strings.Builder{}
				p.thinkingText[idx] = b
			}
			b.WriteString(text.Value)
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := int(ptrValue(ev.Value.ContentBlockIndex))
		if b, ok := p.thinkingText[idx]; ok {
			delete(p.thinkingText, idx)
			if text := b.String(); text != "" {
				p.emit(aggregate.Chunk{Content: "<thinking>" + text + "</thinking>"})
			}
		}
		delete(p.toolBlocks, idx)
		return nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = mapStopReason(string(ev.Value.StopReason))
		p.emit(aggregate.Chunk{FinishReason: p.stopReason, Usage: p.usage})
		return nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		p.usage = &aggregate.Usage{
			PromptTokens:     int(ptrValue(ev.Value.Usage.InputTokens)),
			CompletionTokens: int(ptrValue(ev.Value.Usage.OutputTokens)),
			TotalTokens:      int(ptrValue(ev.Value.Usage.TotalTokens)),
			Details: map[string]int{
				"cache_read":  int(ptrValue(ev.Value.Usage.CacheReadInputTokens)),
				"cache_write": int(ptrValue(ev.Value.Usage.CacheWriteInputTokens)),
			},
		}
		return nil
	}
	return nil
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}

// mapStopReason translates Bedrock's StopReason vocabulary into
// events.FinishReason's string values, without importing the events
// package to keep this provider decoupled from the event model's higher
// layer.
func mapStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "end_turn", "stop_sequence", "":
		return "stop"
	default:
		return "stop"
	}
}
