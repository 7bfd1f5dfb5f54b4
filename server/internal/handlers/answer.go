package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handleAnswer routes an endpoint's SDP answer into the Forwarder built
// for it. An answer arriving from an operator session
// (not part of the default flow) is ignored.
func handleAnswer(ctx context.Context, deps dispatch.Deps, payload string) error {
	uniqueID, ok := deps.Registry.LookupEndpoint(deps.Channel.ID())
	if !ok {
		return nil
	}

	var in protocol.AnswerPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	if err := deps.SFU.AcceptAnswer(uniqueID, string(in.Answer)); err != nil {
		slog.Debug("handlers: accept answer failed", "unique_id", uniqueID, "err", err)
	}
	return nil
}
