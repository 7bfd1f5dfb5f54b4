package handlers

import (
	"context"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handlePing replies pong, the liveness half of the ping/pong pair.
func handlePing(ctx context.Context, deps dispatch.Deps, payload string) error {
	return deps.Channel.Write(protocol.EventPong, "")
}

// handlePong has nothing left to do: the dispatcher's reader re-arms the
// connection's liveness on every inbound frame, pongs included, before
// the frame is routed here.
func handlePong(ctx context.Context, deps dispatch.Deps, payload string) error {
	return nil
}
