// Package dispatch implements the event-name to handler routing fabric:
// one reader goroutine per accepted connection, one
// ephemeral handler goroutine per inbound frame, and a typed dependency
// bundle resolved once per connection rather than per handler.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qcynaut/myrts-monorepo/server/internal/channel"
	"github.com/qcynaut/myrts-monorepo/server/internal/registry"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
	"github.com/qcynaut/myrts-monorepo/server/internal/sfu"
)

// ShutdownGrace is how long in-flight handlers are given before the
// dispatcher stops waiting on them.
const ShutdownGrace = 5 * time.Second

// PingInterval is how often the server probes an idle connection.
const PingInterval = 30 * time.Second

// LivenessTimeout is how long a connection may stay silent before the
// server closes it; any inbound frame (a pong included) re-arms it.
const LivenessTimeout = 90 * time.Second

// Deps is the per-connection service locator injected into every handler.
// It is passed by value; its fields are the shared, already-constructed
// singletons of the process, never connection-owned state.
type Deps struct {
	Registry *registry.Registry
	Repo     *repo.SQLiteStore
	SFU      *sfu.Manager
	Channel  *channel.Channel
}

// Handler is the shape every protocol handler implements.
type Handler func(ctx context.Context, deps Deps, payload string) error

// Dispatcher owns the event_name -> Handler table.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event name. Re-registering an event
// replaces its handler; this is only ever done at bootstrap.
func (d *Dispatcher) Register(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = h
}

// Serve runs the read loop for one connection until the channel is lost.
// On accept it synthesizes a start event, and on disconnect a final end
// event. It returns as soon as the end handler has run: it does not wait
// for the handlers it spawned for that connection, which keep running
// with ctx and are only waited on, up to ShutdownGrace, by Shutdown.
func (d *Dispatcher) Serve(ctx context.Context, deps Deps) {
	d.invoke(ctx, deps, "start", "")

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())
	pingCtx, stopPing := context.WithCancel(ctx)
	go keepalive(pingCtx, deps.Channel, &lastSeen)

	for {
		event, payload, err := deps.Channel.Read()
		if err != nil {
			if err == channel.ErrConnectionLost {
				slog.Debug("dispatch: connection lost", "session", deps.Channel.ID())
			} else {
				slog.Debug("dispatch: read error", "session", deps.Channel.ID(), "err", err)
			}
			break
		}
		lastSeen.Store(time.Now().UnixNano())
		d.spawn(ctx, deps, event, payload)
	}

	stopPing()
	d.invoke(ctx, deps, "end", "")
}

// keepalive probes the peer with ping frames and closes the channel when
// nothing has been heard for LivenessTimeout; the closed transport makes
// the reader loop exit into the end path.
func keepalive(ctx context.Context, ch *channel.Channel, lastSeen *atomic.Int64) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, lastSeen.Load())) > LivenessTimeout {
				slog.Info("dispatch: liveness timeout, closing", "session", ch.ID())
				_ = ch.Close()
				return
			}
			_ = ch.Write("ping", "")
		}
	}
}

// spawn runs one handler invocation as an independent task so a slow
// handler never blocks the reader loop. The handler runs with the connection's own ctx,
// undeadlined by spawn itself: ShutdownGrace bounds Shutdown's wait for
// in-flight handlers to finish, it is not a per-call timeout, so a slow
// relay (or, on the endpoint side of this same package, a long shell
// command) is not force-killed mid-request.
func (d *Dispatcher) spawn(ctx context.Context, deps Deps, event, payload string) {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()

	if !ok {
		slog.Warn("dispatch: unknown event", "event", event, "session", deps.Channel.ID())
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := h(ctx, deps, payload); err != nil {
			slog.Warn("dispatch: handler error", "event", event, "session", deps.Channel.ID(), "err", err)
		}
	}()
}

// invoke runs a synthesized local event (start/end) inline rather than as
// a spawned task, since these bracket the connection's own lifetime.
func (d *Dispatcher) invoke(ctx context.Context, deps Deps, event, payload string) {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if err := h(ctx, deps, payload); err != nil {
		slog.Warn("dispatch: synthesized event handler error", "event", event, "session", deps.Channel.ID(), "err", err)
	}
}

// Shutdown waits for in-flight handlers across all connections to finish,
// up to ShutdownGrace.
func (d *Dispatcher) Shutdown() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		slog.Warn("dispatch: shutdown grace period elapsed with handlers still running")
	}
}
