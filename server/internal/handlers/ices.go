package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handleIces routes trickled ICE candidates into the right peer
// connection depending on which side sent them: an
// endpoint's candidates go to its Forwarder, an operator's go to the
// Publisher of the session they own.
func handleIces(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.IcesPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	if uniqueID, ok := deps.Registry.LookupEndpoint(deps.Channel.ID()); ok {
		if err := deps.SFU.EndpointICE(uniqueID, in.Ices); err != nil {
			slog.Debug("handlers: endpoint ice failed", "unique_id", uniqueID, "err", err)
		}
		return nil
	}
	if operatorID, ok := deps.Registry.LookupOperator(deps.Channel.ID()); ok {
		if err := deps.SFU.AcceptOperatorICE(operatorID, in.Ices); err != nil {
			slog.Debug("handlers: operator ice failed", "operator_id", operatorID, "err", err)
		}
	}
	return nil
}
