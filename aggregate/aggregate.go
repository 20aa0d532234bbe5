// Package aggregate accumulates a provider's streamed choice-delta chunks
// into one final record per spec.md §4.2, and sums usage-counter chunks
// separately. It is grounded on the teacher's StreamingAggregator pattern
// (model/aggregator.go) adapted to the simpler string-content Message
// shape, and on planner/stream.go's ConsumeStream accumulation style.
package aggregate

import "sort"

// Chunk is one incremental choice-delta record from an LLM provider
// stream, as consumed by both the aggregator (C3) and the pipeline (C4).
type Chunk struct {
	Index        int
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Usage        *Usage
}

// ToolCallDelta is one incremental fragment of an in-progress tool call,
// keyed by Index within the surrounding Chunk stream.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string // raw JSON-text fragment, concatenated across deltas
}

// Usage carries token usage counters, summed across chunks. Details holds
// provider-specific counters (e.g. cache read/write tokens) as a flat map
// summed key by key; nested counter maps are not supported.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Details          map[string]int
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
	if len(u.Details) > 0 || len(other.Details) > 0 {
		out.Details = make(map[string]int, len(u.Details)+len(other.Details))
		for k, v := range u.Details {
			out.Details[k] += v
		}
		for k, v := range other.Details {
			out.Details[k] += v
		}
	}
	return out
}

// ToolCall is one fully-assembled tool call as it appears in the final
// Aggregated record, in ascending index order.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw concatenated JSON text; parsed by callers that need an object
}

// Aggregated is the single record emitted once the upstream chunk stream
// completes.
type Aggregated struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Aggregator accumulates Chunks into an Aggregated record. It holds no
// goroutines and is not safe for concurrent use; callers feed it
// sequentially from the single upstream subscription (pipeline enforces
// this).
type Aggregator struct {
	content      []string
	finishReason string
	usage        Usage
	calls        map[int]*toolCallAcc
	order        []int
}

type toolCallAcc struct {
	id, name string
	args     []string
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{calls: make(map[int]*toolCallAcc)}
}

// Add folds one chunk into the accumulator.
func (a *Aggregator) Add(c Chunk) {
	if c.Content != "" {
		a.content = append(a.content, c.Content)
	}
	for _, d := range c.ToolCalls {
		acc, ok := a.calls[d.Index]
		if !ok {
			acc = &toolCallAcc{}
			a.calls[d.Index] = acc
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			acc.id = d.ID
		}
		if d.Name != "" {
			acc.name = d.Name
		}
		if d.Arguments != "" {
			acc.args = append(acc.args, d.Arguments)
		}
	}
	if c.FinishReason != "" {
		a.finishReason = c.FinishReason
	}
	if c.Usage != nil {
		a.usage = a.usage.Add(*c.Usage)
	}
}

// Result returns the Aggregated record built from chunks seen so far. It
// may be called at any time, but is meaningful once the upstream stream
// has completed.
func (a *Aggregator) Result() Aggregated {
	order := append([]int(nil), a.order...)
	sort.Ints(order)

	calls := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		acc := a.calls[idx]
		calls = append(calls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: joinStrings(acc.args),
		})
	}

	return Aggregated{
		Content:      joinStrings(a.content),
		ToolCalls:    calls,
		FinishReason: a.finishReason,
		Usage:        a.usage,
	}
}

// Reset clears all accumulated state, allowing reuse for a new stream.
func (a *Aggregator) Reset() {
	a.content = nil
	a.finishReason = ""
	a.usage = Usage{}
	a.calls = make(map[int]*toolCallAcc)
	a.order = nil
}

func joinStrings(ss []string) string {
	total := 0
	for _, s := range ss {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range ss {
		buf = append(buf, s...)
	}
	return string(buf)
}
