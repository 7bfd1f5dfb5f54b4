package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qcynaut/myrts-monorepo/server/internal/timeslots"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a concrete EndpointRepo/ScheduleRepo/SessionRepo/RecordRepo
// implementation. It exists so this core is independently testable without
// the full external relational deployment; a production
// deployment may instead point the core at adapters over the real
// Postgres-backed REST layer.
//
// Each narrow interface is satisfied by its own thin accessor
// (Endpoints/Schedules/Sessions/Records) sharing the one *sql.DB, since a
// single Go type cannot implement two interfaces whose methods collide by
// name (both EndpointRepo and RecordRepo declare a Get).
type SQLiteStore struct {
	db *sql.DB

	endpoints *endpointStore
	schedules *scheduleStore
	sessions  *sessionStore
	records   *recordStore
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("repo: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repo: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite database: %w", err)
	}

	st := &SQLiteStore{
		db:        db,
		endpoints: &endpointStore{db: db},
		schedules: &scheduleStore{db: db},
		sessions:  &sessionStore{db: db},
		records:   &recordStore{db: db},
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("repo: sqlite store opened", "path", path)
	return st, nil
}

// Endpoints returns the EndpointRepo view of this store.
func (s *SQLiteStore) Endpoints() EndpointRepo { return s.endpoints }

// Schedules returns the ScheduleRepo view of this store.
func (s *SQLiteStore) Schedules() ScheduleRepo { return s.schedules }

// Sessions returns the SessionRepo view of this store.
func (s *SQLiteStore) Sessions() SessionRepo { return s.sessions }

// Records returns the RecordRepo view of this store.
func (s *SQLiteStore) Records() RecordRepo { return s.records }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("repo: enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS avs (
	unique_id TEXT PRIMARY KEY,
	pending INTEGER NOT NULL DEFAULT 1,
	status INTEGER NOT NULL DEFAULT 2,
	networks TEXT NOT NULL DEFAULT '',
	mem_total INTEGER NOT NULL DEFAULT 0,
	mem_free INTEGER NOT NULL DEFAULT 0,
	disk_total INTEGER NOT NULL DEFAULT 0,
	disk_free INTEGER NOT NULL DEFAULT 0,
	cpu_temp REAL NOT NULL DEFAULT 0,
	telemetry_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	hash TEXT NOT NULL,
	file_url TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schedules (
	sid INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	days TEXT NOT NULL DEFAULT '',
	weeks TEXT NOT NULL DEFAULT '',
	dates TEXT NOT NULL DEFAULT '',
	times TEXT NOT NULL DEFAULT '',
	month INTEGER,
	year INTEGER,
	record_url TEXT NOT NULL,
	operator_id INTEGER NOT NULL,
	device_ids TEXT NOT NULL DEFAULT '',
	volumes TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role INTEGER NOT NULL DEFAULT 3
);

CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	operator_id INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS occupancy (
	endpoint_unique_id TEXT PRIMARY KEY,
	slots TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("repo: migrate: %w", err)
	}
	return nil
}

func splitCSVInts(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		var v int
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func joinCSVInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

type endpointStore struct{ db *sql.DB }

// Get implements EndpointRepo.
func (s *endpointStore) Get(ctx context.Context, uniqueID string) (Endpoint, error) {
	var e Endpoint
	var pending, status int
	row := s.db.QueryRowContext(ctx, `SELECT unique_id, pending, status FROM avs WHERE unique_id = ?`, uniqueID)
	if err := row.Scan(&e.UniqueID, &pending, &status); err != nil {
		if err == sql.ErrNoRows {
			return Endpoint{}, ErrNotFound
		}
		return Endpoint{}, fmt.Errorf("repo: get endpoint: %w", err)
	}
	e.Pending = pending != 0
	e.Status = EndpointStatus(status)
	return e, nil
}

// CreatePending implements EndpointRepo.
func (s *endpointStore) CreatePending(ctx context.Context, uniqueID string) (Endpoint, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO avs (unique_id, pending, status) VALUES (?, 1, ?)`,
		uniqueID, EndpointDisconnected)
	if err != nil {
		return Endpoint{}, fmt.Errorf("repo: create pending endpoint: %w", err)
	}
	return Endpoint{UniqueID: uniqueID, Pending: true, Status: EndpointDisconnected}, nil
}

// SetStatus implements EndpointRepo.
func (s *endpointStore) SetStatus(ctx context.Context, uniqueID string, status EndpointStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE avs SET status = ? WHERE unique_id = ?`, status, uniqueID)
	if err != nil {
		return fmt.Errorf("repo: set endpoint status: %w", err)
	}
	return nil
}

// UpsertTelemetry implements EndpointRepo.
func (s *endpointStore) UpsertTelemetry(ctx context.Context, uniqueID string, info Telemetry) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE avs SET networks = ?, mem_total = ?, mem_free = ?, disk_total = ?, disk_free = ?, cpu_temp = ?, telemetry_at = ?
WHERE unique_id = ?`,
		strings.Join(info.Networks, ","), info.MemTotal, info.MemFree, info.DiskTotal, info.DiskFree,
		info.CPUTemp, info.UpdatedAt.Unix(), uniqueID)
	if err != nil {
		return fmt.Errorf("repo: upsert telemetry: %w", err)
	}
	return nil
}

type scheduleStore struct{ db *sql.DB }

// ForEndpoint implements ScheduleRepo.
func (s *scheduleStore) ForEndpoint(ctx context.Context, endpointUniqueID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sid, name, kind, days, weeks, dates, times, month, year, record_url, operator_id, device_ids, volumes FROM schedules`)
	if err != nil {
		return nil, fmt.Errorf("repo: list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var (
			sc                                      Schedule
			daysS, weeksS, datesS, timesS, deviceIDs string
			volumesJSON                              string
			month, year                              sql.NullInt64
		)
		if err := rows.Scan(&sc.SID, &sc.Name, &sc.Kind, &daysS, &weeksS, &datesS, &timesS,
			&month, &year, &sc.RecordURL, &sc.OperatorID, &deviceIDs, &volumesJSON); err != nil {
			return nil, fmt.Errorf("repo: scan schedule: %w", err)
		}
		sc.Days = splitCSVInts(daysS)
		sc.Weeks = splitCSVInts(weeksS)
		sc.Dates = splitCSVInts(datesS)
		if timesS != "" {
			sc.Times = splitCSV(timesS)
		}
		sc.Targets = splitCSV(deviceIDs)
		if month.Valid {
			m := int(month.Int64)
			sc.Month = &m
		}
		if year.Valid {
			y := int(year.Int64)
			sc.Year = &y
		}
		sc.Volumes = map[string]float64{}
		_ = json.Unmarshal([]byte(volumesJSON), &sc.Volumes)

		if sc.TargetsInclude(endpointUniqueID) {
			out = append(out, sc)
		}
	}
	return out, rows.Err()
}

// AuthorizedEndpoints implements ScheduleRepo. In this narrow repository an
// admin operator is authorized for every endpoint targeted by a schedule
// they own; a real deployment would consult a dedicated permissions table.
func (s *scheduleStore) AuthorizedEndpoints(ctx context.Context, operatorID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_ids FROM schedules WHERE operator_id = ?`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("repo: authorized endpoints: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var out []string
	for rows.Next() {
		var deviceIDs string
		if err := rows.Scan(&deviceIDs); err != nil {
			return nil, fmt.Errorf("repo: scan authorized endpoints: %w", err)
		}
		for _, id := range splitCSV(deviceIDs) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out, rows.Err()
}

type sessionStore struct{ db *sql.DB }

// Lookup implements SessionRepo.
func (s *sessionStore) Lookup(ctx context.Context, token string) (SessionLookupResult, OperatorSession, error) {
	var operatorID int64
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT operator_id, expires_at FROM sessions WHERE token = ?`, token)
	if err := row.Scan(&operatorID, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return SessionNotFound, OperatorSession{}, nil
		}
		return SessionNotFound, OperatorSession{}, fmt.Errorf("repo: lookup session: %w", err)
	}
	if time.Now().Unix() > expiresAt {
		return SessionExpired, OperatorSession{}, nil
	}

	var role int
	row = s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, operatorID)
	if err := row.Scan(&role); err != nil {
		role = int(RoleAdminFallback)
	}
	return SessionValid, OperatorSession{OperatorID: operatorID, Role: role}, nil
}

// RoleAdminFallback is used when an operator row is missing its role; the
// admin role is the most restrictive, so it is the safe default.
const RoleAdminFallback = 3

// CreateSession mints a bearer-token session for an operator, upserting
// the operator's role. The external REST layer that issues tokens lives
// elsewhere, but this is the one write path this core needs to
// exercise Lookup's tri-state contract end-to-end (and the seam a REST
// adapter would call into if one existed).
func (s *SQLiteStore) CreateSession(ctx context.Context, token string, operatorID int64, role int, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, role) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET role = excluded.role`,
		operatorID, role); err != nil {
		return fmt.Errorf("repo: upsert operator role: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, operator_id, expires_at) VALUES (?, ?, ?)`,
		token, operatorID, expiresAt.Unix()); err != nil {
		return fmt.Errorf("repo: create session: %w", err)
	}
	return nil
}

type recordStore struct{ db *sql.DB }

// Get implements RecordRepo.
func (s *recordStore) Get(ctx context.Context, id int64) (Record, error) {
	var r Record
	var status int
	row := s.db.QueryRowContext(ctx, `SELECT id, name, hash, file_url, duration_seconds, status FROM records WHERE id = ?`, id)
	if err := row.Scan(&r.ID, &r.Name, &r.Hash, &r.FileURL, &r.Duration, &status); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("repo: get record: %w", err)
	}
	r.Active = status == 1
	return r, nil
}

// ErrScheduleCollision is returned by CreateSchedule when the new schedule
// would occupy a minute already claimed on one of its target endpoints.
var ErrScheduleCollision = errors.New("repo: schedule collides with an existing occupied slot")

// CreateSchedule is the one place the REST-adjacent administrative surface
// calls into the core's TimeSlots occupancy grid: before a schedule
// is persisted, every target endpoint's occupancy is checked and updated
// atomically across the whole target set, then InsertSchedule runs.
// durationMinutes is the playback length of the schedule's record, rounded
// up to the minute.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sc Schedule, durationMinutes int) (int64, error) {
	if durationMinutes <= 0 {
		durationMinutes = 1
	}

	slots := make(map[string]*timeslots.TimeSlots, len(sc.Targets))
	for _, endpointUniqueID := range sc.Targets {
		ts, err := s.loadOccupancy(ctx, endpointUniqueID)
		if err != nil {
			return 0, err
		}
		if err := applyScheduleOccupancy(ts, sc, durationMinutes); err != nil {
			return 0, err
		}
		slots[endpointUniqueID] = ts
	}

	for endpointUniqueID, ts := range slots {
		if err := s.saveOccupancy(ctx, endpointUniqueID, ts); err != nil {
			return 0, err
		}
	}
	return s.InsertSchedule(ctx, sc)
}

// loadOccupancy returns the stored TimeSlots for an endpoint, or a fresh
// empty one when none exists yet.
func (s *SQLiteStore) loadOccupancy(ctx context.Context, endpointUniqueID string) (*timeslots.TimeSlots, error) {
	var text string
	row := s.db.QueryRowContext(ctx, `SELECT slots FROM occupancy WHERE endpoint_unique_id = ?`, endpointUniqueID)
	switch err := row.Scan(&text); err {
	case nil:
		return timeslots.FromText(text)
	case sql.ErrNoRows:
		return timeslots.New(), nil
	default:
		return nil, fmt.Errorf("repo: load occupancy: %w", err)
	}
}

func (s *SQLiteStore) saveOccupancy(ctx context.Context, endpointUniqueID string, ts *timeslots.TimeSlots) error {
	text, err := ts.ToText()
	if err != nil {
		return fmt.Errorf("repo: serialize occupancy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO occupancy (endpoint_unique_id, slots) VALUES (?, ?)
ON CONFLICT(endpoint_unique_id) DO UPDATE SET slots = excluded.slots`, endpointUniqueID, text)
	if err != nil {
		return fmt.Errorf("repo: save occupancy: %w", err)
	}
	return nil
}

// applyScheduleOccupancy attempts every minute range the schedule implies
// against ts. A collision on any date/time combination aborts with
// ErrScheduleCollision; the caller discards ts without persisting, so a
// failed attempt never reaches the occupancy table.
func applyScheduleOccupancy(ts *timeslots.TimeSlots, sc Schedule, durationMinutes int) error {
	for _, timeStr := range sc.Times {
		hour, minute, err := parseHourMinute(timeStr)
		if err != nil {
			return err
		}

		switch sc.Kind {
		case ScheduleCalendar:
			if sc.Year == nil || sc.Month == nil {
				return fmt.Errorf("repo: calendar schedule requires year and month")
			}
			for _, date := range sc.Dates {
				if ts.AddOnce(*sc.Year, *sc.Month, date, hour, minute, durationMinutes) {
					return ErrScheduleCollision
				}
			}
		default: // ScheduleRepetition
			if len(sc.Weeks) > 0 {
				for _, week := range sc.Weeks {
					for _, day := range sc.Days {
						if ts.AddWeek(week, day, hour, minute, durationMinutes) {
							return ErrScheduleCollision
						}
					}
				}
			}
			for _, date := range sc.Dates {
				if ts.Add(date, hour, minute, durationMinutes) {
					return ErrScheduleCollision
				}
			}
		}
	}
	return nil
}

func parseHourMinute(timeStr string) (hour, minute int, err error) {
	parts := strings.SplitN(timeStr, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("repo: malformed schedule time %q", timeStr)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("repo: malformed schedule time %q: %w", timeStr, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("repo: malformed schedule time %q: %w", timeStr, err)
	}
	return hour, minute, nil
}

// InsertSchedule persists a schedule row once its occupancy has already
// been reserved (or for callers, such as tests, that manage occupancy
// themselves).
func (s *SQLiteStore) InsertSchedule(ctx context.Context, sc Schedule) (int64, error) {
	volumesJSON, err := json.Marshal(sc.Volumes)
	if err != nil {
		return 0, fmt.Errorf("repo: marshal volumes: %w", err)
	}
	var month, year any
	if sc.Month != nil {
		month = *sc.Month
	}
	if sc.Year != nil {
		year = *sc.Year
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (name, kind, days, weeks, dates, times, month, year, record_url, operator_id, device_ids, volumes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, sc.Kind, joinCSVInts(sc.Days), joinCSVInts(sc.Weeks), joinCSVInts(sc.Dates),
		strings.Join(sc.Times, ","), month, year, sc.RecordURL, sc.OperatorID,
		strings.Join(sc.Targets, ","), string(volumesJSON))
	if err != nil {
		return 0, fmt.Errorf("repo: insert schedule: %w", err)
	}
	return res.LastInsertId()
}
