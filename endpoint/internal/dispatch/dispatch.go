// Package dispatch implements this endpoint's event-name to handler
// routing, the same shape as server/internal/dispatch generalized from
// N concurrent accepted connections down to the one outbound connection
// an endpoint ever holds.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/channel"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/consumer"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/localstore"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/scheduler"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/sink"
)

// ShutdownGrace bounds how long Shutdown waits for in-flight handlers to
// finish, mirroring server/internal/dispatch's ShutdownGrace.
const ShutdownGrace = 5 * time.Second

// Identity is this endpoint's static configuration, read once at
// bootstrap from the environment.
type Identity struct {
	ClientID    string
	Description string
	Address     string
	DataPath    string
}

// TurnCreds is the last ICE-server credential set the server handed
// this endpoint over the turn event.
type TurnCreds struct {
	URL      string
	Username string
	Password string
}

// Deps is the service locator injected into every handler, the
// endpoint-side analogue of server/internal/dispatch.Deps.
type Deps struct {
	Channel   *channel.Channel
	Store     *localstore.Store
	Sink      *sink.Sink
	Scheduler *scheduler.Scheduler
	Identity  Identity

	Turn   *TurnState
	Stream *StreamState
}

// TurnState holds the most recently received TURN credentials, read by
// the offer handler when it builds a Consumer.
type TurnState struct {
	mu    sync.RWMutex
	creds TurnCreds
}

func (t *TurnState) Set(c TurnCreds) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creds = c
}

func (t *TurnState) Get() TurnCreds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.creds
}

// StreamState holds the single active Consumer, if any, implementing
// the endpoint half of "only one source plays" alongside internal/sink.
type StreamState struct {
	mu       sync.Mutex
	consumer *consumer.Consumer
}

// Set installs a new Consumer, closing any previous one first.
func (s *StreamState) Set(c *consumer.Consumer) {
	s.mu.Lock()
	prev := s.consumer
	s.consumer = c
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// Get returns the active Consumer, if any.
func (s *StreamState) Get() (*consumer.Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumer, s.consumer != nil
}

// Clear tears down the active Consumer, if any, and forgets it.
func (s *StreamState) Clear() {
	s.mu.Lock()
	prev := s.consumer
	s.consumer = nil
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
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

// Register binds a handler to an event name.
func (d *Dispatcher) Register(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = h
}

// Serve runs the read loop for the connection until it is lost. Unlike
// the server's Dispatcher, there is exactly one connection per process
// lifetime segment; the caller is responsible for reconnecting and
// calling Serve again.
func (d *Dispatcher) Serve(ctx context.Context, deps Deps) {
	d.invoke(ctx, deps, "start", "")

	for {
		event, payload, err := deps.Channel.Read()
		if err != nil {
			if err == channel.ErrConnectionLost {
				slog.Debug("dispatch: connection lost")
			} else {
				slog.Debug("dispatch: read error", "err", err)
			}
			break
		}
		d.spawn(ctx, deps, event, payload)
	}

	d.invoke(ctx, deps, "end", "")
}

// spawn runs one handler invocation as an independent task so a slow
// handler never blocks the reader loop. The handler runs with the
// connection's own ctx, undeadlined by spawn itself: ShutdownGrace
// bounds Shutdown's wait for in-flight handlers to finish, it is not a
// per-call timeout, so handleCommand's shell execution (command.Run,
// via exec.CommandContext) is not force-killed mid-run by an unrelated
// 5-second clock.
func (d *Dispatcher) spawn(ctx context.Context, deps Deps, event, payload string) {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()

	if !ok {
		slog.Warn("dispatch: unknown event", "event", event)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := h(ctx, deps, payload); err != nil {
			slog.Warn("dispatch: handler error", "event", event, "err", err)
		}
	}()
}

func (d *Dispatcher) invoke(ctx context.Context, deps Deps, event, payload string) {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if err := h(ctx, deps, payload); err != nil {
		slog.Warn("dispatch: synthesized event handler error", "event", event, "err", err)
	}
}

// Shutdown waits for in-flight handlers to finish, up to ShutdownGrace.
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
