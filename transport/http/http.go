// Package http implements the SSE egress transport (A6): a net/http
// server exposing one context's event stream as text/event-stream,
// replaying buffered history on reconnect via Last-Event-ID before
// switching to live delivery, with bearer-token auth and CORS.
//
// Grounded on example/cmd/assistant/http.go's http.Server construction
// and signal-driven graceful-shutdown shape, replacing its
// goa-generated mux/endpoint/websocket wiring (this module has no goa
// codegen layer) with a plain http.ServeMux and this package's own SSE
// handler, and using shutdown.Coordinator instead of a sync.WaitGroup
// for teardown ordering.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentforge/core/events"
	"github.com/agentforge/core/ringbuffer"
	"github.com/agentforge/core/shutdown"
	"github.com/agentforge/core/ssebus"
)

// TokenValidator authenticates an SSE subscription request. A nil
// Validator on Server disables auth entirely (useful for local/dev use
// and for tests).
type TokenValidator interface {
	// Valid reports whether token (the bearer token presented by the
	// client, already stripped of the "Bearer " prefix) grants access to
	// contextID.
	Valid(ctx context.Context, token, contextID string) bool
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token, contextID string) bool

func (f TokenValidatorFunc) Valid(ctx context.Context, token, contextID string) bool {
	return f(ctx, token, contextID)
}

// Options configures a Server.
type Options struct {
	// RingBuffer supplies replay history for reconnecting clients.
	RingBuffer *ringbuffer.Buffer
	// Bus supplies live event delivery.
	Bus *ssebus.Bus
	// Validator authenticates requests. Optional; nil disables auth.
	Validator TokenValidator
	// FilterInternal is the default Filter.IncludeInternal inversion
	// applied to every subscription opened through this server (config
	// package's Stream.FilterInternal, inverted sense: true here means
	// internal: events are dropped by default).
	FilterInternal bool
	// AllowedOrigins lists CORS origins permitted to read the stream.
	// A single "*" entry allows any origin.
	AllowedOrigins []string
	// HeartbeatInterval, if > 0, sends an SSE comment line on this
	// cadence so intermediary proxies don't time out an idle stream.
	HeartbeatInterval time.Duration
}

// Server serves the SSE egress endpoint described by spec.md §6.
type Server struct {
	ring      *ringbuffer.Buffer
	bus       *ssebus.Bus
	validator TokenValidator
	filterInt bool
	origins   map[string]bool
	allowAny  bool
	heartbeat time.Duration
}

// Publish is the single entry point turn-loop code should use to hand an
// event to this server: it appends to the ring buffer once, obtaining
// the event's canonical id, then notifies live subscribers. Concurrent
// SSE connections for the same contextId must never call ring.Append
// themselves — only one call per event may happen, or reconnecting
// clients would see diverging id sequences depending on which
// connection happened to append first.
func (s *Server) Publish(contextID string, ev events.Event) int64 {
	id := s.ring.Append(contextID, ev)
	s.bus.Publish(contextID, ev)
	return id
}

// New constructs a Server. RingBuffer and Bus are required.
func New(opts Options) (*Server, error) {
	if opts.RingBuffer == nil {
		return nil, fmt.Errorf("transport/http: ring buffer is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("transport/http: bus is required")
	}
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	allowAny := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowAny = true
			continue
		}
		origins[o] = true
	}
	return &Server{
		ring:      opts.RingBuffer,
		bus:       opts.Bus,
		validator: opts.Validator,
		filterInt: opts.FilterInternal,
		origins:   origins,
		allowAny:  allowAny,
		heartbeat: opts.HeartbeatInterval,
	}, nil
}

// Handler returns the http.Handler exposing GET /events.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	contextID := r.URL.Query().Get("contextId")
	if contextID == "" {
		http.Error(w, "contextId is required", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		token := bearerToken(r)
		if token == "" || !s.validator.Valid(r.Context(), token, contextID) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sinceID := lastEventID(r)

	replay := s.ring.Replay(contextID, sinceID)
	lastSent := sinceID
	for _, entry := range replay.Entries {
		if err := writeFrame(w, entry.ID, entry.Event); err != nil {
			return
		}
		lastSent = entry.ID
	}
	flusher.Flush()

	// The bus subscription is used only as a wakeup signal: every event
	// delivered through it is already in the ring buffer (Publish appends
	// before it notifies), so the frames actually sent are always
	// re-derived from Replay(contextID, lastSent) rather than the
	// delivered payload itself. This keeps id assignment single-writer
	// (Publish) even with several concurrent SSE connections replaying
	// and tailing the same contextId.
	filter := ssebus.Filter{IncludeInternal: !s.filterInt}
	sub := s.bus.Subscribe(contextID, filter)
	defer func() { _ = sub.Close() }()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if s.heartbeat > 0 {
		ticker = time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			catchUp := s.ring.Replay(contextID, lastSent)
			for _, entry := range catchUp.Entries {
				if err := writeFrame(w, entry.ID, entry.Event); err != nil {
					return
				}
				lastSent = entry.ID
			}
			flusher.Flush()
		case <-tickC:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one frame in the exact format spec.md §6 specifies:
// an "event:" line naming the kind, an "id:" line with the monotonic
// ring-buffer id, a "data:" line with the JSON envelope, then a blank
// line.
func writeFrame(w http.ResponseWriter, id int64, ev events.Event) error {
	payload, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Meta().Kind, id, payload)
	return err
}

// lastEventID resolves the reconnect cursor from the Last-Event-ID
// header or, failing that, a last_event_id query parameter — spec.md
// §6 allows either.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return id
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

// Serve starts an HTTP server for s on addr and registers its graceful
// shutdown with coord: on coord.Shutdown, the listener stops accepting
// new connections and in-flight SSE streams are given gracePeriod to
// drain before the server is forced closed. errc receives a non-nil
// error if ListenAndServe fails for a reason other than the graceful
// Shutdown call itself.
//
// Grounded on example/cmd/assistant/http.go's http.Server construction
// (ReadHeaderTimeout set defensively, a background goroutine running
// ListenAndServe with its result sent to an error channel, and
// srv.Shutdown on teardown), adapted from that file's ad hoc
// sync.WaitGroup/errc/ctx.Done teardown trigger to shutdown.Coordinator's
// Register/Shutdown contract.
func Serve(addr string, handler http.Handler, coord *shutdown.Coordinator, gracePeriod time.Duration, errc chan<- error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	coord.Register(shutdown.Step{
		Name: "transport/http",
		Run: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, gracePeriod)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if s.allowAny {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else if s.origins[origin] {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	} else {
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization")
}
