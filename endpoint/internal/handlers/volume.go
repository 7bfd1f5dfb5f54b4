package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleVolume receives an operator volume update: logged only,
// since this core meters forwarded audio rather than routing it to a
// hardware output that a gain value could be applied to.
func handleVolume(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.VolumePayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}
	slog.Debug("handlers: volume update received", "volume", in.Volume)
	return nil
}
