package handlers

import (
	"context"
	"os"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handleTurn replies with the static ICE-server credentials.
// The credentials themselves are deployment configuration, read from the
// TURN_URL, TURN_USERNAME and TURN_PASSWORD environment variables on
// every request.
func handleTurn(ctx context.Context, deps dispatch.Deps, payload string) error {
	return deps.Channel.Write(protocol.EventTurn, protocol.TurnPayload{
		URL:      os.Getenv("TURN_URL"),
		Username: os.Getenv("TURN_USERNAME"),
		Password: os.Getenv("TURN_PASSWORD"),
	})
}
