package timeslots

import "testing"

// TestAddCollisionLeavesStructureUnchanged: if add
// reports collided, no minute of the structure changed.
func TestAddCollisionLeavesStructureUnchanged(t *testing.T) {
	ts := New()
	if ts.Add(15, 10, 0, 30) {
		t.Fatal("first add should not collide")
	}
	before, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}

	if !ts.Add(15, 10, 15, 10) {
		t.Fatal("overlapping add should collide")
	}

	after, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatal("structure changed despite a reported collision")
	}
}

// TestAddRemoveRoundTrip: add followed by an
// identical remove returns the structure to its prior state.
func TestAddRemoveRoundTrip(t *testing.T) {
	ts := New()
	empty, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}

	if ts.Add(15, 10, 0, 30) {
		t.Fatal("add should not collide on empty structure")
	}
	ts.Remove(15, 10, 0, 30)

	after, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}
	if empty != after {
		t.Fatal("remove did not restore the prior state")
	}
}

// TestConcreteTimeSlotsCollisionScenario walks a concrete collision sequence.
func TestConcreteTimeSlotsCollisionScenario(t *testing.T) {
	ts := New()
	if ts.Add(15, 10, 0, 30) {
		t.Fatal("add(date=15, hour=10, minute=0, duration=30) should not collide")
	}
	if !ts.Add(15, 10, 15, 10) {
		t.Fatal("add(date=15, hour=10, minute=15, duration=10) should collide")
	}
	ts.Remove(15, 10, 0, 30)

	for week := 0; week < weeksPerMonth; week++ {
		for day := 0; day < daysPerWeek; day++ {
			for minute := 0; minute < minutesPerDay; minute++ {
				if ts.Weeks[week].Days[day].Slots[minute] {
					t.Fatalf("expected all-zero structure, found occupied slot week=%d day=%d minute=%d", week, day, minute)
				}
			}
		}
	}
}

func TestAddWeekOutOfRangeCollides(t *testing.T) {
	ts := New()
	if !ts.AddWeek(6, 1, 0, 0, 30) {
		t.Fatal("week out of 1..5 range should collide")
	}
	if !ts.AddWeek(1, 8, 0, 0, 30) {
		t.Fatal("day out of 1..7 range should collide")
	}
}

func TestDayOverflowRollsIntoNextDay(t *testing.T) {
	d := &MinuteDay{}
	_, overflow := d.add(23, 50, 30)
	if overflow != 20 {
		t.Fatalf("overflow = %d, want 20", overflow)
	}
	for i := 23 * 60; i < minutesPerDay; i++ {
		if !d.Slots[i] {
			t.Fatalf("expected minute %d occupied", i)
		}
	}
}

func TestOverflowingAddRemoveRoundTrip(t *testing.T) {
	ts := New()
	empty, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}

	// 23:50 + 30min spills 20 minutes into the next day.
	if ts.AddWeek(2, 7, 23, 50, 30) {
		t.Fatal("overflowing add should not collide on empty structure")
	}
	if !ts.Weeks[2].Days[0].Slots[0] {
		t.Fatal("expected the overflow to land on day 1 of the next week")
	}
	ts.RemoveWeek(2, 7, 23, 50, 30)

	after, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}
	if empty != after {
		t.Fatal("remove did not undo the cascaded overflow")
	}
}

func TestAddOnceVerifiesAgainstRecurringSlots(t *testing.T) {
	ts := New()
	week, day := weekOfMonth(2026, 3, 10), dayOfWeekFromSunday(2026, 3, 10)
	if ts.AddWeek(week, day, 10, 0, 30) {
		t.Fatal("setup add should not collide")
	}

	if !ts.AddOnce(2026, 3, 10, 10, 15, 10) {
		t.Fatal("add_once overlapping a recurring slot should collide")
	}
	if len(ts.Onces) != 0 {
		t.Fatal("a colliding add_once must not create a once bucket")
	}
}

func TestAddOnceAndRemoveOnceRoundTrip(t *testing.T) {
	ts := New()
	if ts.AddOnce(2026, 3, 10, 14, 0, 45) {
		t.Fatal("add_once should not collide on empty structure")
	}
	if _, ok := ts.Onces[onceMapKey(2026, 3)]; !ok {
		t.Fatal("expected a once bucket for 2026-03")
	}

	if !ts.AddOnce(2026, 3, 10, 14, 20, 10) {
		t.Fatal("overlapping add_once should collide")
	}

	ts.RemoveOnce(2026, 3, 10, 14, 0, 45)
	bucket := ts.Onces[onceMapKey(2026, 3)]
	week, day := weekOfMonth(2026, 3, 10), dayOfWeekFromSunday(2026, 3, 10)
	for minute := range bucket.Weeks[week-1].Days[day-1].Slots {
		if bucket.Weeks[week-1].Days[day-1].Slots[minute] {
			t.Fatalf("expected once bucket cleared, minute %d still set", minute)
		}
	}
}

func TestWeekOfMonthFirstSaturday(t *testing.T) {
	// March 2026 starts on a Sunday; the first Saturday is the 7th.
	if got := weekOfMonth(2026, 3, 1); got != 1 {
		t.Fatalf("day 1 week = %d, want 1", got)
	}
	if got := weekOfMonth(2026, 3, 7); got != 1 {
		t.Fatalf("day 7 week = %d, want 1", got)
	}
	if got := weekOfMonth(2026, 3, 8); got != 2 {
		t.Fatalf("day 8 week = %d, want 2", got)
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	ts := New()
	ts.Add(15, 10, 0, 30)
	ts.AddOnce(2026, 3, 10, 14, 0, 45)

	text, err := ts.ToText()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := FromText(text)
	if err != nil {
		t.Fatal(err)
	}
	again, err := parsed.ToText()
	if err != nil {
		t.Fatal(err)
	}
	if text != again {
		t.Fatal("round-trip through ToText/FromText is not stable")
	}
}
