package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/localstore"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleSync implements the endpoint-side half of the sync event: a
// reply from the server carries the add/remove delta against this
// endpoint's local schedule set, which is applied to the local store and
// then the scheduler is told to reload.
func handleSync(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.SyncReply
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	add := make([]localstore.Schedule, 0, len(in.Add))
	for _, sc := range in.Add {
		add = append(add, toLocalSchedule(sc))
	}

	if err := deps.Scheduler.ApplySync(ctx, add, in.Remove); err != nil {
		return fmt.Errorf("handlers: apply sync delta: %w", err)
	}
	return nil
}

// handleResync implements the endpoint-side "resync" event: re-emit a
// sync request carrying the current local sid set.
func handleResync(ctx context.Context, deps dispatch.Deps, payload string) error {
	deps.Scheduler.Resync(ctx)
	return nil
}

func toLocalSchedule(sc protocol.Schedule) localstore.Schedule {
	return localstore.Schedule{
		SID:       sc.SID,
		Name:      sc.Name,
		Kind:      localstore.ScheduleKind(sc.Kind),
		Days:      sc.Days,
		Weeks:     sc.Weeks,
		Dates:     sc.Dates,
		Times:     sc.Times,
		Month:     sc.Month,
		Year:      sc.Year,
		RecordURL: sc.RecordURL,
		Volume:    sc.Volume,
	}
}
