package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
)

// handleAVSInfo upserts the calling endpoint's last-reported telemetry.
func handleAVSInfo(ctx context.Context, deps dispatch.Deps, payload string) error {
	uniqueID, ok := deps.Registry.LookupEndpoint(deps.Channel.ID())
	if !ok {
		return nil
	}

	var in protocol.AVSInfoPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	telemetry := repo.Telemetry{UpdatedAt: time.Now()}
	for _, n := range in.Networks {
		telemetry.Networks = append(telemetry.Networks, n.Name)
	}
	if in.MemTotal != nil {
		telemetry.MemTotal = *in.MemTotal
	}
	if in.MemFree != nil {
		telemetry.MemFree = *in.MemFree
	}
	if in.DiskTotal != nil {
		telemetry.DiskTotal = *in.DiskTotal
	}
	if in.DiskFree != nil {
		telemetry.DiskFree = *in.DiskFree
	}
	if in.CPUTemp != nil {
		telemetry.CPUTemp = *in.CPUTemp
	}

	return deps.Repo.Endpoints().UpsertTelemetry(ctx, uniqueID, telemetry)
}
