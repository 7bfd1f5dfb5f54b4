package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
)

// handleSync implements the server-side half of the sync event: the
// calling endpoint reports its local schedule id set, and the server
// replies with the add/remove delta against the schedules targeting it.
func handleSync(ctx context.Context, deps dispatch.Deps, payload string) error {
	uniqueID, ok := deps.Registry.LookupEndpoint(deps.Channel.ID())
	if !ok {
		return nil
	}

	var in protocol.SyncRequest
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	serverSchedules, err := deps.Repo.Schedules().ForEndpoint(ctx, uniqueID)
	if err != nil {
		return fmt.Errorf("handlers: list schedules for endpoint: %w", err)
	}

	localSet := make(map[int64]struct{}, len(in.Local))
	for _, sid := range in.Local {
		localSet[sid] = struct{}{}
	}
	serverSet := make(map[int64]repo.Schedule, len(serverSchedules))
	for _, sc := range serverSchedules {
		serverSet[sc.SID] = sc
	}

	var reply protocol.SyncReply
	for sid, sc := range serverSet {
		if _, present := localSet[sid]; !present {
			reply.Add = append(reply.Add, toWireSchedule(sc, uniqueID))
		}
	}
	for sid := range localSet {
		if _, present := serverSet[sid]; !present {
			reply.Remove = append(reply.Remove, sid)
		}
	}

	return deps.Channel.Write(protocol.EventSync, reply)
}

func toWireSchedule(sc repo.Schedule, endpointUniqueID string) protocol.Schedule {
	out := protocol.Schedule{
		SID:       sc.SID,
		Name:      sc.Name,
		Kind:      protocol.ScheduleKind(sc.Kind),
		Days:      sc.Days,
		Weeks:     sc.Weeks,
		Dates:     sc.Dates,
		Times:     sc.Times,
		Month:     sc.Month,
		Year:      sc.Year,
		RecordURL: sc.RecordURL,
		Volume:    sc.VolumeFor(endpointUniqueID),
	}
	return out
}
