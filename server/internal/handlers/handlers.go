// Package handlers implements the server's protocol operations: one file per
// protocol event, each a dispatch.Handler closed over the shared
// dependencies injected by the Dispatcher.
package handlers

import (
	"context"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
)

// Register binds every handler in this package to a fresh Dispatcher,
// the one call site bootstrap needs to wire the whole protocol surface.
func Register(d *dispatch.Dispatcher) {
	d.Register("start", handleStart)
	d.Register("auth", handleAuth)
	d.Register("sync", handleSync)
	d.Register("turn", handleTurn)
	d.Register("offer", handleOffer)
	d.Register("answer", handleAnswer)
	d.Register("ices", handleIces)
	d.Register("volume", handleVolume)
	d.Register("command", handleCommand)
	d.Register("avs_info", handleAVSInfo)
	d.Register("ping", handlePing)
	d.Register("pong", handlePong)
	d.Register("end", handleEnd)
}

func handleStart(ctx context.Context, deps dispatch.Deps, payload string) error {
	slog.Debug("handlers: session started", "session", deps.Channel.ID())
	return nil
}
