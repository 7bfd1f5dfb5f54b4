// Package localstore is the endpoint's embedded database: two
// tables, one holding this device's identity and one mirroring its
// ScheduleLocal rows with comma-joined textual list columns, the same
// Open/migrate/*sql.DB shape the server's internal/repo package uses over
// the relational store.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the device identity row has not been set yet.
var ErrNotFound = errors.New("localstore: not found")

// ScheduleKind mirrors protocol.ScheduleKind.
type ScheduleKind int

const (
	ScheduleRepetition ScheduleKind = 1
	ScheduleCalendar   ScheduleKind = 2
)

// Schedule is the endpoint-side view of one playback rule: the same
// fields as the server's Schedule minus the multi-endpoint targeting, plus
// the one volume scalar applicable to this endpoint.
type Schedule struct {
	SID       int64
	Name      string
	Kind      ScheduleKind
	Days      []int
	Weeks     []int
	Dates     []int
	Times     []string
	Month     *int
	Year      *int
	RecordURL string
	Volume    float64
}

// Device is this endpoint's persisted identity.
type Device struct {
	UniqueID string
	Pending  bool
}

// Store wraps a *sql.DB holding the device and schedules_local tables.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the local SQLite database at path and runs its
// idempotent migration, mirroring repo.Open on the server side.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("localstore: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS device (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	unique_id TEXT NOT NULL,
	pending INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS schedules_local (
	sid INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	days TEXT NOT NULL DEFAULT '',
	weeks TEXT NOT NULL DEFAULT '',
	dates TEXT NOT NULL DEFAULT '',
	times TEXT NOT NULL DEFAULT '',
	month INTEGER,
	year INTEGER,
	record_url TEXT NOT NULL,
	volume REAL NOT NULL DEFAULT 1.0
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("localstore: migrate: %w", err)
	}
	return nil
}

// SetDevice upserts this endpoint's identity row.
func (s *Store) SetDevice(ctx context.Context, uniqueID string, pending bool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO device (id, unique_id, pending) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET unique_id = excluded.unique_id, pending = excluded.pending`,
		uniqueID, boolToInt(pending))
	if err != nil {
		return fmt.Errorf("localstore: set device: %w", err)
	}
	return nil
}

// Device returns the persisted identity, or ErrNotFound if never set.
func (s *Store) Device(ctx context.Context) (Device, error) {
	var d Device
	var pending int
	err := s.db.QueryRowContext(ctx, `SELECT unique_id, pending FROM device WHERE id = 1`).Scan(&d.UniqueID, &pending)
	if err == sql.ErrNoRows {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("localstore: device: %w", err)
	}
	d.Pending = pending != 0
	return d, nil
}

// ReplaceSchedules applies a sync delta: removes by
// sid, then inserts each add, in one transaction.
func (s *Store) ReplaceSchedules(ctx context.Context, add []Schedule, remove []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, sid := range remove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedules_local WHERE sid = ?`, sid); err != nil {
			return fmt.Errorf("localstore: remove schedule %d: %w", sid, err)
		}
	}
	for _, sc := range add {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO schedules_local (sid, name, kind, days, weeks, dates, times, month, year, record_url, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(sid) DO UPDATE SET
	name = excluded.name, kind = excluded.kind, days = excluded.days, weeks = excluded.weeks,
	dates = excluded.dates, times = excluded.times, month = excluded.month, year = excluded.year,
	record_url = excluded.record_url, volume = excluded.volume`,
			sc.SID, sc.Name, sc.Kind, joinCSVInts(sc.Days), joinCSVInts(sc.Weeks), joinCSVInts(sc.Dates),
			strings.Join(sc.Times, ","), sc.Month, sc.Year, sc.RecordURL, sc.Volume); err != nil {
			return fmt.Errorf("localstore: add schedule %d: %w", sc.SID, err)
		}
	}
	return tx.Commit()
}

// Schedules returns every persisted ScheduleLocal row.
func (s *Store) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sid, name, kind, days, weeks, dates, times, month, year, record_url, volume FROM schedules_local`)
	if err != nil {
		return nil, fmt.Errorf("localstore: list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var days, weeks, dates, times string
		if err := rows.Scan(&sc.SID, &sc.Name, &sc.Kind, &days, &weeks, &dates, &times,
			&sc.Month, &sc.Year, &sc.RecordURL, &sc.Volume); err != nil {
			return nil, fmt.Errorf("localstore: scan schedule: %w", err)
		}
		sc.Days = splitCSVInts(days)
		sc.Weeks = splitCSVInts(weeks)
		sc.Dates = splitCSVInts(dates)
		sc.Times = splitCSV(times)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SIDs returns every currently persisted schedule sid, the local set a
// sync request reports back to the server.
func (s *Store) SIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sid FROM schedules_local`)
	if err != nil {
		return nil, fmt.Errorf("localstore: list sids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("localstore: scan sid: %w", err)
		}
		out = append(out, sid)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func splitCSVInts(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func joinCSVInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
