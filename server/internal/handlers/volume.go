package handlers

import (
	"context"
	"encoding/json"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// handleVolume implements the server-side half of the volume event:
// an operator's volume update is re-emitted to every forwarder in the
// stream they own.
func handleVolume(ctx context.Context, deps dispatch.Deps, payload string) error {
	operatorID, ok := deps.Registry.LookupOperator(deps.Channel.ID())
	if !ok {
		return nil
	}
	var in protocol.VolumePayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}
	deps.SFU.SetVolume(operatorID, in.Volume)
	return nil
}
