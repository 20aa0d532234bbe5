// Command agentcore is the runnable binary (A8): a "serve" mode exposing
// the SSE egress transport over HTTP, and a "debug" mode that runs one
// turn against stdin input and prints its events/final content without
// opening a listener.
//
// Grounded on example/cmd/assistant/main.go's flag/signal/errc/graceful-
// shutdown shape, trimmed of its goa-generated service/endpoint wiring
// (no goa codegen layer exists in this module) and of its gRPC/websocket
// listeners (only the SSE transport A6 specifies exists here).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/config"
	"github.com/agentforge/core/events"
	"github.com/agentforge/core/iteration"
	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/provider/anthropic"
	"github.com/agentforge/core/provider/openai"
	"github.com/agentforge/core/ratelimit"
	"github.com/agentforge/core/ringbuffer"
	"github.com/agentforge/core/shutdown"
	"github.com/agentforge/core/ssebus"
	"github.com/agentforge/core/telemetry"
	"github.com/agentforge/core/tool"
	"github.com/agentforge/core/tooldispatch"
	transporthttp "github.com/agentforge/core/transport/http"
	"github.com/agentforge/core/turnloop"
)

func main() {
	mode := "serve"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		mode = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	var (
		configPathF = flag.String("config", "", "path to agentcore.yaml; defaults built in when empty")
		addrF       = flag.String("addr", ":8080", "address the SSE server listens on (serve mode)")
		providerF   = flag.String("provider", "anthropic", "provider backend: anthropic, openai, or bedrock")
		modelF      = flag.String("model", "", "provider model id override (defaults per provider)")
		messageF    = flag.String("message", "", "debug mode: user message to run; reads stdin if empty")
	)
	flag.Parse()

	logger := telemetry.NewSlogLogger(slog.Default())
	ctx := context.Background()

	cfg, err := loadConfig(*configPathF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore:", err)
		os.Exit(1)
	}

	caller, err := buildCaller(*providerF, *modelF, cfg.Provider.Timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore:", err)
		os.Exit(1)
	}

	dispatcher := tooldispatch.New(defaultTools(), logger)
	executor := iteration.New(caller, dispatcher, logger)
	loop := turnloop.New(executor, turnloop.Config{
		MaxIterations:   cfg.Turn.MaxIterations,
		StopOnToolError: cfg.Turn.StopOnToolError,
	})

	switch mode {
	case "debug":
		if err := runDebug(ctx, loop, *messageF); err != nil {
			fmt.Fprintln(os.Stderr, "agentcore:", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(ctx, cfg, loop, *addrF, logger); err != nil {
			fmt.Fprintln(os.Stderr, "agentcore:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "agentcore: unknown mode %q (want \"serve\" or \"debug\")\n", mode)
		os.Exit(2)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	return config.Load(path)
}

// defaultConfig mirrors config.applyDefaults for callers that run without
// a checked-in agentcore.yaml (the common case for "debug" mode). It
// bypasses config.Load entirely, so the AGENTCORE_* environment overrides
// that Load applies are not applied when -config is empty.
func defaultConfig() *config.Config {
	return &config.Config{
		Turn:       config.TurnConfig{MaxIterations: 10},
		Provider:   config.ProviderConfig{Timeout: 60 * time.Second},
		RingBuffer: config.RingBufferConfig{Capacity: 1000},
		Logging:    config.LoggingConfig{Level: "info", Format: "json"},
	}
}

// buildCaller selects and constructs the iteration.Caller for name,
// reading the provider's API key from its conventional environment
// variable, wraps it in ratelimit.Limiter so a provider-reported rate
// limit backs off automatically rather than surfacing to the turn loop
// as a hard failure, then in timeoutCaller so cfg.Provider.Timeout bounds
// each call.
func buildCaller(name, model string, timeout time.Duration) (iteration.Caller, error) {
	var (
		caller iteration.Caller
		err    error
	)
	switch name {
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		var c *anthropic.Caller
		c, err = anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropic.Options{DefaultModel: model, MaxTokens: 4096})
		if err == nil {
			caller = ratelimit.New(c, 60000, 240000)
		}
	case "openai":
		if model == "" {
			model = "gpt-4o"
		}
		var c *openai.Caller
		c, err = openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), openai.Options{DefaultModel: model, MaxTokens: 4096})
		if err == nil {
			caller = ratelimit.New(c, 60000, 240000)
		}
	case "bedrock":
		if model == "" {
			return nil, fmt.Errorf("agentcore: -model is required for the bedrock provider")
		}
		return nil, fmt.Errorf("agentcore: bedrock requires an AWS SDK config; wire provider/bedrock.New with your own bedrockruntime.Client")
	default:
		return nil, fmt.Errorf("agentcore: unknown provider %q", name)
	}
	if err != nil {
		return nil, err
	}
	return timeoutCaller{Caller: caller, timeout: timeout}, nil
}

// timeoutCaller bounds one Call (request plus full streamed response) by
// cfg.Provider.Timeout, mirroring features/model/middleware/ratelimit.go's
// per-call context.WithTimeout wrap around a provider network call.
type timeoutCaller struct {
	iteration.Caller
	timeout time.Duration
}

func (c timeoutCaller) Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	if c.timeout <= 0 {
		return c.Caller.Call(ctx, messages, tools)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	upstream, err := c.Caller.Call(ctx, messages, tools)
	if err != nil {
		cancel()
		return nil, err
	}
	return cancelingUpstream{Upstream: upstream, cancel: cancel}, nil
}

// cancelingUpstream releases the timeout context's resources once the
// pipeline has fully drained upstream, instead of leaking it until the
// parent context itself is cancelled.
type cancelingUpstream struct {
	pipeline.Upstream
	cancel context.CancelFunc
}

func (u cancelingUpstream) Recv(ctx context.Context) (aggregate.Chunk, bool, error) {
	chunk, ok, err := u.Upstream.Recv(ctx)
	if !ok {
		u.cancel()
	}
	return chunk, ok, err
}

// defaultTools returns the in-process tool providers available to every
// turn. Empty by default; deployments add tool/mcptool.New or
// tool/childagent providers here, or an application-specific
// tool.StaticProvider registration.
func defaultTools() []tool.Provider {
	return []tool.Provider{tool.NewStaticProvider("local")}
}

// runDebug runs exactly one turn against a single user message (from
// -message or, if empty, the first line of stdin), printing each emitted
// event as a JSON line to stdout, then the content of every non-empty
// assistant message in the resulting history, each after a "---" line.
func runDebug(ctx context.Context, loop *turnloop.Loop, messageFlag string) error {
	text := messageFlag
	if text == "" {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(line)
	}
	if text == "" {
		return fmt.Errorf("no input message (pass -message or pipe one line to stdin)")
	}

	loopCtx := loopctx.LoopContext{
		ContextID: "debug-" + uuid.NewString(),
		TaskID:    uuid.NewString(),
	}
	history := []message.Message{message.User(text)}

	emit := func(e events.Event) {
		payload, err := events.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(os.Stdout, string(payload))
	}

	outcome, err := loop.Run(ctx, loopCtx, history, nil, emit)
	if err != nil {
		return err
	}

	for _, m := range outcome.History {
		if m.Role == message.RoleAssistant && m.Content != "" {
			fmt.Fprintln(os.Stdout, "---")
			fmt.Fprintln(os.Stdout, m.Content)
		}
	}
	return nil
}

// runServe starts the SSE egress server and blocks until a termination
// signal arrives, then drains via shutdown.Coordinator.
func runServe(ctx context.Context, cfg *config.Config, loop *turnloop.Loop, addr string, logger telemetry.Logger) error {
	_ = loop // the SSE transport serves whatever external ingress publishes via transporthttp.Server.Publish; starting turns over HTTP is out of scope (spec.md non-goals)

	ring := ringbuffer.New(cfg.RingBuffer.Capacity)
	bus := ssebus.New(256)

	server, err := transporthttp.New(transporthttp.Options{
		RingBuffer:        ring,
		Bus:               bus,
		FilterInternal:    cfg.Stream.FilterInternal,
		HeartbeatInterval: 15 * time.Second,
	})
	if err != nil {
		return err
	}

	coord := shutdown.New()
	errc := make(chan error, 1)
	transporthttp.Serve(addr, server.Handler(), coord, 30*time.Second, errc)
	logger.Info(ctx, "agentcore: serving", "addr", addr)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		logger.Info(ctx, "agentcore: shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return coord.Shutdown(shutdownCtx)
}
