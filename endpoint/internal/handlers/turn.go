package handlers

import (
	"context"
	"encoding/json"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleTurn stores the static ICE-server credentials the server hands
// back, for the next offer's Consumer to use.
func handleTurn(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.TurnPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}
	deps.Turn.Set(dispatch.TurnCreds{URL: in.URL, Username: in.Username, Password: in.Password})
	return nil
}
