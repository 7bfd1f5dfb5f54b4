package handlers

import (
	"context"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleStart emits the outgoing auth: the very first thing this
// endpoint does on a fresh connection is identify itself.
func handleStart(ctx context.Context, deps dispatch.Deps, payload string) error {
	return deps.Channel.Write(protocol.EventAuth, protocol.AuthPayload{
		ClientID:          deps.Identity.ClientID,
		ClientType:        protocol.ClientTypeEndpoint,
		ClientDescription: deps.Identity.Description,
		ClientAddress:     deps.Identity.Address,
	})
}
