package handlers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handleCommand routes the bidirectional command event: from
// an operator it is routed to the targeted endpoint by unique id; from an
// endpoint it is routed back to the operator named in sender.
func handleCommand(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.CommandPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	if _, ok := deps.Registry.LookupOperator(deps.Channel.ID()); ok {
		ch, ok := deps.Registry.EndpointChannel(in.Target)
		if !ok {
			return nil
		}
		return ch.Write(protocol.EventCommand, in)
	}

	if _, ok := deps.Registry.LookupEndpoint(deps.Channel.ID()); ok {
		operatorID, err := strconv.ParseInt(in.Sender, 10, 64)
		if err != nil {
			return nil
		}
		ch, ok := deps.Registry.OperatorChannel(operatorID)
		if !ok {
			return nil
		}
		return ch.Write(protocol.EventCommand, in)
	}

	return nil
}
