package tool

import (
	"context"
	"fmt"
)

// Func is an in-process tool implementation.
type Func func(ctx context.Context, call Call, progress func(Progress)) Result

// StaticProvider serves tools registered as in-process Go functions. It is
// the default Provider for tests and for tools that need no external
// transport.
type StaticProvider struct {
	name  string
	defs  map[string]Definition
	funcs map[string]Func
	order []string
}

// NewStaticProvider returns an empty StaticProvider identified by name.
func NewStaticProvider(name string) *StaticProvider {
	return &StaticProvider{
		name:  name,
		defs:  make(map[string]Definition),
		funcs: make(map[string]Func),
	}
}

// Register adds or replaces a tool. Registration order is preserved in
// ListTools.
func (p *StaticProvider) Register(def Definition, fn Func) {
	if _, exists := p.defs[def.Name]; !exists {
		p.order = append(p.order, def.Name)
	}
	p.defs[def.Name] = def
	p.funcs[def.Name] = fn
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) ListTools(_ context.Context) ([]Definition, error) {
	out := make([]Definition, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.defs[n])
	}
	return out, nil
}

func (p *StaticProvider) GetTool(_ context.Context, name string) (Definition, bool) {
	def, ok := p.defs[name]
	return def, ok
}

func (p *StaticProvider) ExecuteTool(ctx context.Context, call Call, progress func(Progress)) Result {
	fn, ok := p.funcs[call.Name]
	if !ok {
		return Result{Err: fmt.Errorf("tool %q not registered on provider %q", call.Name, p.name)}
	}
	return fn(ctx, call, progress)
}
