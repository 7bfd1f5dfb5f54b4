// Package repo defines the narrow repository interfaces the core touches
// on the relational store, plus a concrete sqlite-backed implementation
// used by tests and small deployments. The REST administrative surface
// and its migrations live elsewhere; this package is the one seam the
// core calls through.
package repo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("repo: not found")

// EndpointStatus is an endpoint's connection status.
type EndpointStatus int

const (
	EndpointDisconnected EndpointStatus = 2
	EndpointConnected    EndpointStatus = 1
)

// Endpoint is the server's view of an EndpointIdentity.
type Endpoint struct {
	UniqueID string
	Pending  bool
	Status   EndpointStatus
}

// Record is one uploaded recording.
type Record struct {
	ID       int64
	Name     string
	Hash     string
	FileURL  string
	Duration int
	Active   bool
}

// ScheduleKind distinguishes repetition schedules from calendar ones.
type ScheduleKind int

const (
	ScheduleRepetition ScheduleKind = 1
	ScheduleCalendar   ScheduleKind = 2
)

// Schedule is the server's full view of a schedule row, including its
// target endpoint set and per-endpoint volume overrides.
type Schedule struct {
	SID        int64
	Name       string
	Kind       ScheduleKind
	Days       []int
	Weeks      []int
	Dates      []int
	Times      []string
	Month      *int
	Year       *int
	RecordURL  string
	OperatorID int64
	Targets    []string           // endpoint unique ids this schedule applies to
	Volumes    map[string]float64 // per-endpoint volume override; default 1.0
}

// VolumeFor resolves the volume applicable to one endpoint, defaulting to
// 1.0 when no override is set.
func (s Schedule) VolumeFor(endpointUniqueID string) float64 {
	if v, ok := s.Volumes[endpointUniqueID]; ok {
		return v
	}
	return 1.0
}

// TargetsInclude reports whether the schedule's target set contains an
// endpoint unique id.
func (s Schedule) TargetsInclude(endpointUniqueID string) bool {
	for _, t := range s.Targets {
		if t == endpointUniqueID {
			return true
		}
	}
	return false
}

// SessionLookupResult is the tri-state result of an operator bearer token
// lookup (present & valid / present & expired / absent).
type SessionLookupResult int

const (
	SessionNotFound SessionLookupResult = iota
	SessionExpired
	SessionValid
)

// OperatorSession is the resolved identity behind a bearer token.
type OperatorSession struct {
	OperatorID int64
	Role       int // 1=root, 2=superadmin, 3=admin
}

// EndpointRepo is the narrow endpoint-identity surface the core touches.
type EndpointRepo interface {
	// Get returns the endpoint record for uniqueID, or ErrNotFound.
	Get(ctx context.Context, uniqueID string) (Endpoint, error)
	// CreatePending inserts a new endpoint in pending state.
	CreatePending(ctx context.Context, uniqueID string) (Endpoint, error)
	// SetStatus updates the connected/disconnected status.
	SetStatus(ctx context.Context, uniqueID string, status EndpointStatus) error
	// UpsertTelemetry stores the endpoint's last-reported avs_info.
	UpsertTelemetry(ctx context.Context, uniqueID string, info Telemetry) error
}

// Telemetry mirrors protocol.AVSInfoPayload in repository form.
type Telemetry struct {
	Networks  []string
	MemTotal  uint64
	MemFree   uint64
	DiskTotal uint64
	DiskFree  uint64
	CPUTemp   float64
	UpdatedAt time.Time
}

// ScheduleRepo is the narrow schedule surface the core touches.
type ScheduleRepo interface {
	// ForEndpoint returns every schedule whose target set contains uniqueID.
	ForEndpoint(ctx context.Context, endpointUniqueID string) ([]Schedule, error)
	// AuthorizedEndpoints returns the endpoint unique ids an admin-role
	// operator is authorized to target, for the offer authorization check.
	AuthorizedEndpoints(ctx context.Context, operatorID int64) ([]string, error)
}

// SessionRepo resolves operator bearer tokens.
type SessionRepo interface {
	Lookup(ctx context.Context, token string) (SessionLookupResult, OperatorSession, error)
}

// RecordRepo is the narrow record surface the core touches.
type RecordRepo interface {
	Get(ctx context.Context, id int64) (Record, error)
}
