package handlers

import (
	"context"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
)

// handleEnd releases every resource this connection held.
func handleEnd(ctx context.Context, deps dispatch.Deps, payload string) error {
	deps.Stream.Clear()
	deps.Scheduler.Unblock()
	_ = deps.Channel.Close()
	return nil
}
