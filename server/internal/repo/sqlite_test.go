package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "myrts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEndpointCreatePendingThenGet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.Endpoints().Get(ctx, "AVS-001"); err != ErrNotFound {
		t.Fatalf("Get before create = %v, want ErrNotFound", err)
	}

	ep, err := st.Endpoints().CreatePending(ctx, "AVS-001")
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if !ep.Pending || ep.Status != EndpointDisconnected {
		t.Fatalf("CreatePending result = %+v", ep)
	}

	got, err := st.Endpoints().Get(ctx, "AVS-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UniqueID != "AVS-001" || !got.Pending {
		t.Fatalf("Get = %+v", got)
	}

	if err := st.Endpoints().SetStatus(ctx, "AVS-001", EndpointConnected); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ = st.Endpoints().Get(ctx, "AVS-001")
	if got.Status != EndpointConnected {
		t.Fatalf("Status after SetStatus = %v, want connected", got.Status)
	}
}

func TestSessionLookupNotFoundExpiredValid(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	result, _, err := st.Sessions().Lookup(ctx, "missing-token")
	if err != nil || result != SessionNotFound {
		t.Fatalf("Lookup(missing) = %v, %v, want SessionNotFound", result, err)
	}

	if err := st.CreateSession(ctx, "expired-token", 42, 3, time.Unix(1, 0)); err != nil {
		t.Fatalf("seed expired session: %v", err)
	}
	result, _, err = st.Sessions().Lookup(ctx, "expired-token")
	if err != nil || result != SessionExpired {
		t.Fatalf("Lookup(expired) = %v, %v, want SessionExpired", result, err)
	}

	if err := st.CreateSession(ctx, "valid-token", 42, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed valid session: %v", err)
	}
	result, op, err := st.Sessions().Lookup(ctx, "valid-token")
	if err != nil || result != SessionValid || op.OperatorID != 42 || op.Role != 1 {
		t.Fatalf("Lookup(valid) = %v, %+v, %v", result, op, err)
	}
}

func TestCreateScheduleRejectsOccupancyCollision(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sc := Schedule{
		Name:       "morning anthem",
		Kind:       ScheduleRepetition,
		Weeks:      []int{1},
		Days:       []int{1},
		Times:      []string{"08:00"},
		OperatorID: 7,
		Targets:    []string{"AVS-001"},
	}
	if _, err := st.CreateSchedule(ctx, sc, 30); err != nil {
		t.Fatalf("first CreateSchedule: %v", err)
	}

	overlapping := sc
	overlapping.Name = "overlapping anthem"
	overlapping.Times = []string{"08:15"}
	if _, err := st.CreateSchedule(ctx, overlapping, 10); err != ErrScheduleCollision {
		t.Fatalf("overlapping CreateSchedule = %v, want ErrScheduleCollision", err)
	}

	rows, err := st.Schedules().ForEndpoint(ctx, "AVS-001")
	if err != nil {
		t.Fatalf("ForEndpoint: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ForEndpoint returned %d schedules, want 1 (collision must not persist)", len(rows))
	}
}

func TestAuthorizedEndpointsDeduplicatesAcrossSchedules(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := Schedule{Name: "a", Kind: ScheduleRepetition, Weeks: []int{1}, Days: []int{2},
		Times: []string{"09:00"}, OperatorID: 3, Targets: []string{"AVS-1", "AVS-2"}}
	second := Schedule{Name: "b", Kind: ScheduleRepetition, Weeks: []int{2}, Days: []int{3},
		Times: []string{"10:00"}, OperatorID: 3, Targets: []string{"AVS-2", "AVS-3"}}

	if _, err := st.CreateSchedule(ctx, first, 5); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := st.CreateSchedule(ctx, second, 5); err != nil {
		t.Fatalf("create second: %v", err)
	}

	got, err := st.Schedules().AuthorizedEndpoints(ctx, 3)
	if err != nil {
		t.Fatalf("AuthorizedEndpoints: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("AuthorizedEndpoints returned duplicate %q", id)
		}
		seen[id] = true
	}
	for _, want := range []string{"AVS-1", "AVS-2", "AVS-3"} {
		if !seen[want] {
			t.Fatalf("AuthorizedEndpoints missing %q, got %v", want, got)
		}
	}
}
