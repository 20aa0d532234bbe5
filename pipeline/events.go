package pipeline

import (
	"context"
	"encoding/json"

	"github.com/agentforge/core/events"
)

// EmitEvents drains a running Pipeline's Content, Tags, and Aggregated
// channels, translating each into the public event shape (spec.md §4.3
// "Mapping to emitted public events") and sending them to emit in arrival
// order. It does not drain ToolCalls — iteration.Executor.Run reads
// Pipeline.ToolCalls and hands each call to the dispatcher (tooldispatch).
//
// EmitEvents returns once Aggregated is closed (signalling Run completed)
// or ctx is canceled.
func EmitEvents(ctx context.Context, p *Pipeline, env events.Envelope, emit func(events.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frag, ok := <-p.Content:
			if !ok {
				p.Content = nil
				continue
			}
			emit(events.ContentDelta{Envelope: env.WithKind(events.KindContentDelta), Delta: frag.Delta, Index: frag.Index})

		case tag, ok := <-p.Tags:
			if !ok {
				p.Tags = nil
				continue
			}
			thoughtType, has := tag.First("thoughtType")
			if !has {
				thoughtType = tag.Name
			}
			verbosity, has := tag.First("verbosity")
			if !has {
				verbosity = "normal"
			}
			emit(events.ThoughtStream{Envelope: env.WithKind(events.KindThoughtStream), Content: tag.Body, ThoughtType: thoughtType, Verbosity: verbosity})

		case agg, ok := <-p.Aggregated:
			if !ok {
				return nil
			}
			calls := make([]events.ToolCallPayload, 0, len(agg.ToolCalls))
			for _, tc := range agg.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &args)
				}
				calls = append(calls, events.ToolCallPayload{ID: tc.ID, Name: tc.Name, Arguments: args})
			}
			emit(events.ContentComplete{
				Envelope:     env.WithKind(events.KindContentComplete),
				Content:      agg.Content,
				ToolCalls:    calls,
				FinishReason: events.FinishReason(agg.FinishReason),
			})
			return nil
		}
	}
}
