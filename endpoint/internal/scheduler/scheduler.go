// Package scheduler implements the endpoint-side scheduler: a persistent
// local schedule store, a periodic tick evaluator, and the block/unblock
// interlock with live streaming.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/fetch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/localstore"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/sink"
)

// TickInterval is the cadence of the long-lived tick task.
const TickInterval = 30 * time.Second

const daysPerWeek = 7
const weeksPerMonth = 5

// SyncRequester emits a sync request carrying the current local sid set.
type SyncRequester func(localSids []int64)

// Scheduler owns the tick task, the block flag, and the playback sink
// interlock.
type Scheduler struct {
	store   *localstore.Store
	cache   *fetch.Cache
	sink    *sink.Sink
	request SyncRequester

	blocked atomic.Bool

	mu        sync.Mutex
	schedules []localstore.Schedule
	cancel    context.CancelFunc
}

// New builds a Scheduler over a local store, record cache, playback sink,
// and the sync-request callback the dispatcher uses to talk to the server.
func New(store *localstore.Store, cache *fetch.Cache, snk *sink.Sink, request SyncRequester) *Scheduler {
	return &Scheduler{store: store, cache: cache, sink: snk, request: request}
}

// Start loads persisted schedules and launches the tick task. The caller
// pairs it with Stop when the connection it serves goes away.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.reloadLocked(ctx); err != nil {
		slog.Warn("scheduler: initial load failed", "err", err)
	}
	s.runTick(ctx)
}

// runTick (re)starts the tick task, canceling any previous one. Called on
// Start and after every applied sync delta.
func (s *Scheduler) runTick(parent context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	tickCtx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case now := <-ticker.C:
				s.evaluate(tickCtx, now)
			}
		}
	}()
}

// evaluate fans out one goroutine per schedule to check the current time.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	if s.blocked.Load() {
		return
	}
	s.mu.Lock()
	schedules := make([]localstore.Schedule, len(s.schedules))
	copy(schedules, s.schedules)
	s.mu.Unlock()

	for _, sc := range schedules {
		go s.evaluateOne(ctx, sc, now)
	}
}

func (s *Scheduler) evaluateOne(ctx context.Context, sc localstore.Schedule, now time.Time) {
	if s.blocked.Load() || s.sink.Playing() {
		return
	}
	if !s.matches(sc, now) {
		return
	}
	s.play(ctx, sc)
}

func (s *Scheduler) matches(sc localstore.Schedule, now time.Time) bool {
	hhmm := now.Format("15:04")
	if !containsString(sc.Times, hhmm) {
		return false
	}

	switch sc.Kind {
	case localstore.ScheduleRepetition:
		week := weekOfMonth(now.Year(), int(now.Month()), now.Day())
		dow := dayOfWeekFromSunday(now.Weekday())
		byWeekDay := containsInt(sc.Weeks, week) && containsInt(sc.Days, dow)
		byDate := containsInt(sc.Dates, now.Day())
		return byWeekDay || byDate
	case localstore.ScheduleCalendar:
		if sc.Month == nil || *sc.Month != int(now.Month()) {
			return false
		}
		if sc.Year == nil || *sc.Year != now.Year() {
			return false
		}
		return containsInt(sc.Dates, now.Day())
	default:
		slog.Warn("scheduler: unknown schedule kind, ignoring", "sid", sc.SID, "kind", sc.Kind)
		return false
	}
}

func (s *Scheduler) play(ctx context.Context, sc localstore.Schedule) {
	path, err := s.cache.Path(ctx, sc.RecordURL)
	if err != nil {
		slog.Warn("scheduler: fetch record failed", "sid", sc.SID, "url", sc.RecordURL, "err", err)
		return
	}
	volume := sc.Volume
	if volume <= 0 {
		volume = 1.0
	}
	if err := s.sink.Play(ctx, path, volume); err != nil {
		slog.Debug("scheduler: sink busy, skipping fire", "sid", sc.SID, "err", err)
	}
}

// ApplySync applies a received sync delta (removes by sid, then inserts
// each add), persists it, then reloads and
// restarts the tick task.
func (s *Scheduler) ApplySync(ctx context.Context, add []localstore.Schedule, remove []int64) error {
	if err := s.store.ReplaceSchedules(ctx, add, remove); err != nil {
		return err
	}
	if err := s.reloadLocked(ctx); err != nil {
		return err
	}
	s.runTick(ctx)
	return nil
}

// Resync re-emits a sync request carrying the current local sid set,
// independent of the periodic tick.
func (s *Scheduler) Resync(ctx context.Context) {
	sids, err := s.store.SIDs(ctx)
	if err != nil {
		slog.Warn("scheduler: resync: load local sids failed", "err", err)
		return
	}
	s.request(sids)
}

func (s *Scheduler) reloadLocked(ctx context.Context) error {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.schedules = schedules
	s.mu.Unlock()
	return nil
}

// Stop cancels the tick task. Idempotent; a stopped Scheduler can be
// restarted with Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Block marks the scheduler blocked and clears the sink, on live-stream
// start. Idempotent.
func (s *Scheduler) Block() {
	s.blocked.Store(true)
	s.sink.Clear()
}

// Unblock marks the scheduler unblocked and clears the sink again, on
// live-stream end. Idempotent.
func (s *Scheduler) Unblock() {
	s.blocked.Store(false)
	s.sink.Clear()
}

// Blocked reports whether the scheduler is currently suppressing tick
// playback for a live stream.
func (s *Scheduler) Blocked() bool { return s.blocked.Load() }

// weekOfMonth: week 1
// covers day 1 through the first Saturday; subsequent weeks are 7-day
// chunks; the last partial week rolls to the next ordinal, capped at 5.
// Mirrors server/internal/timeslots.weekOfMonth exactly, since both sides
// must agree on which week a given date falls in.
func weekOfMonth(year, month, date int) int {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	numFromSunday := int(first.Weekday()) + 1 // Sunday=1 .. Saturday=7
	firstSaturday := daysPerWeek - numFromSunday + 1
	if date <= firstSaturday {
		return 1
	}
	remaining := date - firstSaturday
	week := 1 + (remaining+daysPerWeek-1)/daysPerWeek
	if week > weeksPerMonth {
		week = weeksPerMonth
	}
	return week
}

// dayOfWeekFromSunday returns the weekday number with Sunday=1..Saturday=7.
func dayOfWeekFromSunday(w time.Weekday) int { return int(w) + 1 }

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
