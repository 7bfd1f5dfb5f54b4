package handlers

import (
	"context"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
)

// handleStreamClose ends the live stream on the endpoint side: tear
// down the active Consumer and unblock the scheduler.
func handleStreamClose(ctx context.Context, deps dispatch.Deps, payload string) error {
	deps.Stream.Clear()
	deps.Scheduler.Unblock()
	return nil
}
