// Package pipeline fans a single provider chunk stream into four derived
// streams — content, tags, toolCalls, aggregated — subscribing to the
// upstream exactly once regardless of how many derived streams are
// consumed (spec.md §4.3's "no naive fan-out" invariant). It is grounded
// on the teacher's stream.Sink/Event dispatch shape (runtime/agent/stream/
// stream.go) generalized from "one sink" to "four internal sinks fed by
// one dispatch goroutine".
package pipeline

import (
	"context"
	"strings"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/tagparser"
)

// Upstream yields the raw choice-delta chunks for one LLM call. Recv
// returns (chunk, nil) for each chunk, then (zero, io.EOF)-equivalent via
// the ok=false return once the stream completes, or a non-nil err on
// transient failure.
type Upstream interface {
	Recv(ctx context.Context) (chunk aggregate.Chunk, ok bool, err error)
}

// ContentFragment is one emitted text fragment with its monotonic index,
// already passed through the inline-tag parser (tags removed).
type ContentFragment struct {
	Delta string
	Index int
}

// ToolCallOut is one fully-assembled tool call, emitted once the upstream
// stream terminates.
type ToolCallOut struct {
	ID        string
	Name      string
	Arguments string
}

// recognisedTags is the default thought-tag vocabulary (spec.md §4.3);
// configurable per SPEC_FULL.md A7, overridden via WithRecognisedTags.
var recognisedTags = map[string]bool{
	"thinking":    true,
	"analysis":    true,
	"reasoning":   true,
	"planning":    true,
	"reflection":  true,
	"decision":    true,
	"observation": true,
	"strategy":    true,
}

// Pipeline drives one upstream subscription and fans it into four
// channel-based derived streams. Run blocks until the upstream completes
// or ctx is canceled; callers read from the Content/Tags/ToolCalls/
// Aggregated channels concurrently with Run, and must keep reading (or the
// dispatch goroutine will block — channels are unbuffered by default, see
// New's bufSize option).
type Pipeline struct {
	upstream  Upstream
	parser    *tagparser.Parser
	agg       *aggregate.Aggregator
	tags      map[string]bool
	nextIndex int
	cleaned   strings.Builder

	Content    chan ContentFragment
	Tags       chan tagparser.Tag
	ToolCalls  chan ToolCallOut
	Aggregated chan aggregate.Aggregated
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithRecognisedTags overrides the default thought-tag vocabulary.
func WithRecognisedTags(names []string) Option {
	return func(p *Pipeline) {
		tags := make(map[string]bool, len(names))
		for _, n := range names {
			tags[n] = true
		}
		p.tags = tags
	}
}

// New returns a Pipeline over upstream. bufSize sizes each derived
// channel's buffer; 0 is valid (unbuffered, strict backpressure to the
// dispatch goroutine).
func New(upstream Upstream, bufSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		upstream:   upstream,
		parser:     tagparser.New(),
		agg:        aggregate.New(),
		tags:       recognisedTags,
		Content:    make(chan ContentFragment, bufSize),
		Tags:       make(chan tagparser.Tag, bufSize),
		ToolCalls:  make(chan ToolCallOut, bufSize),
		Aggregated: make(chan aggregate.Aggregated, bufSize),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run drives the single upstream subscription to completion, closing all
// four derived channels when done (either the upstream completed, ctx was
// canceled, or a transient error occurred). It returns the transient
// upstream error, if any; a canceled context is reported via ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.Content)
	defer close(p.Tags)
	defer close(p.ToolCalls)
	defer close(p.Aggregated)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, ok, err := p.upstream.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		p.agg.Add(chunk)

		if chunk.Content != "" {
			texts, tags := p.parser.Feed(chunk.Content)
			p.emitText(ctx, texts)
			p.emitTags(ctx, tags)
		}
	}

	texts, tags := p.parser.Flush()
	p.emitText(ctx, texts)
	p.emitTags(ctx, tags)

	// agg.Result().Content is the raw concatenation of every chunk's
	// Content, tags included; spec.md §4.2/§4.3 require the aggregated
	// record's content to be the tag-parser-cleaned text instead, so it's
	// rebuilt here from the same fragments already sent on p.Content.
	result := p.agg.Result()
	result.Content = p.cleaned.String()
	for _, tc := range result.ToolCalls {
		select {
		case p.ToolCalls <- ToolCallOut{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case p.Aggregated <- result:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *Pipeline) emitText(ctx context.Context, texts []string) {
	for _, t := range texts {
		if t == "" {
			continue
		}
		frag := ContentFragment{Delta: t, Index: p.nextIndex}
		p.nextIndex++
		p.cleaned.WriteString(t)
		select {
		case p.Content <- frag:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) emitTags(ctx context.Context, tags []tagparser.Tag) {
	for _, tag := range tags {
		if !p.tags[tag.Name] {
			continue
		}
		select {
		case p.Tags <- tag:
		case <-ctx.Done():
			return
		}
	}
}
