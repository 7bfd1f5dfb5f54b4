package handlers

import (
	"context"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
)

// handleEnd releases every resource a session held, on both the endpoint
// and operator paths.
func handleEnd(ctx context.Context, deps dispatch.Deps, payload string) error {
	sessionID := deps.Channel.ID()

	if uniqueID, ok := deps.Registry.LookupEndpoint(sessionID); ok {
		deps.SFU.RemoveEndpoint(uniqueID)
		if err := deps.Repo.Endpoints().SetStatus(ctx, uniqueID, repo.EndpointDisconnected); err != nil {
			slog.Warn("handlers: mark endpoint disconnected failed", "unique_id", uniqueID, "err", err)
		}
	} else if operatorID, ok := deps.Registry.LookupOperator(sessionID); ok {
		deps.SFU.CloseSession(operatorID)
	}

	deps.Registry.UnbindBySession(sessionID)
	_ = deps.Channel.Close()
	return nil
}
