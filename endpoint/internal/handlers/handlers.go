// Package handlers implements the endpoint-side protocol operations:
// one file per event, each a dispatch.Handler closed
// over the dependencies the Dispatcher injects.
package handlers

import (
	"context"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// Register binds every handler in this package to a fresh Dispatcher.
func Register(d *dispatch.Dispatcher) {
	d.Register("start", handleStart)
	d.Register("authenticated", handleAuthenticated)
	d.Register("sync", handleSync)
	d.Register("resync", handleResync)
	d.Register("turn", handleTurn)
	d.Register("offer", handleOffer)
	d.Register("ices", handleIces)
	d.Register("volume", handleVolume)
	d.Register("command", handleCommand)
	d.Register("stream:close", handleStreamClose)
	d.Register("ping", handlePing)
	d.Register("pong", handlePong)
	d.Register("end", handleEnd)
}

func handlePing(ctx context.Context, deps dispatch.Deps, payload string) error {
	return deps.Channel.Write("pong", "")
}

func handlePong(ctx context.Context, deps dispatch.Deps, payload string) error {
	return nil
}

// handleAuthenticated bootstraps post-auth state: record that this
// device has been accepted, request TURN credentials up front (needed
// the moment an offer arrives), and kick off a resync so the local
// schedule set reconciles against the server.
func handleAuthenticated(ctx context.Context, deps dispatch.Deps, payload string) error {
	slog.Info("handlers: authenticated")
	if err := deps.Store.SetDevice(ctx, deps.Identity.ClientID, false); err != nil {
		slog.Warn("handlers: persist accepted device state failed", "err", err)
	}
	if err := deps.Channel.Write(protocol.EventTurn, ""); err != nil {
		return err
	}
	deps.Scheduler.Resync(ctx)
	return nil
}
