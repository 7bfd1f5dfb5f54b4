package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/localstore"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/sink"
)

func TestWeekOfMonthFirstWeekCoversThroughFirstSaturday(t *testing.T) {
	// July 2026: day 1 is a Wednesday, so the first Saturday is day 4.
	cases := map[int]int{1: 1, 4: 1, 5: 2, 11: 2, 12: 3, 18: 3, 19: 4, 25: 4, 26: 5, 31: 5}
	for date, want := range cases {
		if got := weekOfMonth(2026, 7, date); got != want {
			t.Errorf("weekOfMonth(2026, 7, %d) = %d, want %d", date, got, want)
		}
	}
}

func TestDayOfWeekFromSunday(t *testing.T) {
	if got := dayOfWeekFromSunday(time.Sunday); got != 1 {
		t.Errorf("Sunday = %d, want 1", got)
	}
	if got := dayOfWeekFromSunday(time.Saturday); got != 7 {
		t.Errorf("Saturday = %d, want 7", got)
	}
}

func TestMatchesRepetitionByWeekAndDay(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC) // Wednesday, week 5
	sc := localstore.Schedule{
		Kind:  localstore.ScheduleRepetition,
		Times: []string{"09:00"},
		Weeks: []int{weekOfMonth(2026, 7, 29)},
		Days:  []int{dayOfWeekFromSunday(now.Weekday())},
	}
	if !s.matches(sc, now) {
		t.Fatalf("expected match on week+day")
	}
}

func TestMatchesRepetitionByExplicitDate(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	sc := localstore.Schedule{
		Kind:  localstore.ScheduleRepetition,
		Times: []string{"09:00"},
		Dates: []int{29},
	}
	if !s.matches(sc, now) {
		t.Fatalf("expected match on explicit date even with no week/day overlap")
	}
}

func TestMatchesRepetitionFailsOnWrongTime(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 7, 29, 9, 1, 0, 0, time.UTC)
	sc := localstore.Schedule{
		Kind:  localstore.ScheduleRepetition,
		Times: []string{"09:00"},
		Dates: []int{29},
	}
	if s.matches(sc, now) {
		t.Fatalf("expected no match off the minute")
	}
}

func TestMatchesCalendarRequiresMonthYearAndDate(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	month, year := 7, 2026

	ok := localstore.Schedule{Kind: localstore.ScheduleCalendar, Times: []string{"09:00"}, Month: &month, Year: &year, Dates: []int{29}}
	if !s.matches(ok, now) {
		t.Fatalf("expected calendar match")
	}

	wrongYear := 2025
	bad := localstore.Schedule{Kind: localstore.ScheduleCalendar, Times: []string{"09:00"}, Month: &month, Year: &wrongYear, Dates: []int{29}}
	if s.matches(bad, now) {
		t.Fatalf("expected no match for wrong year")
	}
}

func TestMatchesUnknownKindIsFalse(t *testing.T) {
	s := &Scheduler{}
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	sc := localstore.Schedule{Kind: localstore.ScheduleKind(99), Times: []string{"09:00"}}
	if s.matches(sc, now) {
		t.Fatalf("expected no match for unknown kind")
	}
}

func TestBlockUnblockAreIdempotentAndTrackState(t *testing.T) {
	s := &Scheduler{sink: sink.New()}
	if s.Blocked() {
		t.Fatalf("expected unblocked initially")
	}
	s.Block()
	s.Block()
	if !s.Blocked() {
		t.Fatalf("expected blocked after Block")
	}
	s.Unblock()
	s.Unblock()
	if s.Blocked() {
		t.Fatalf("expected unblocked after Unblock")
	}
}

func TestResyncReportsLocalSids(t *testing.T) {
	dbPath := t.TempDir() + "/local.db"
	store, err := localstore.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.ReplaceSchedules(ctx, []localstore.Schedule{{SID: 1, Name: "a", Kind: localstore.ScheduleRepetition, RecordURL: "http://x/a.mp3"}}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var got []int64
	s := New(store, nil, nil, func(sids []int64) { got = sids })
	s.Resync(ctx)

	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("resync reported %v, want [1]", got)
	}
}
