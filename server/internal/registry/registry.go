// Package registry implements the process-wide mapping between session ids
// and logical identities (endpoint unique ids, operator ids). It never
// performs I/O and every operation leaves the direct and
// reverse indices consistent.
package registry

import (
	"log/slog"
	"sync"
)

// Channel is the minimal surface the registry needs from a MessageChannel.
// Handlers hold the concrete *channel.Channel; the registry only needs to
// be able to address it later, so it is kept as an interface to avoid an
// import cycle and to ease testing.
type Channel interface {
	ID() string
	Write(event string, payload any) error
	Close() error
}

// Registry holds the process-wide presence state.
type Registry struct {
	mu sync.RWMutex

	endpoints         map[string]Channel // unique_id -> channel
	endpointBySession map[string]string  // session_id -> unique_id
	operators         map[int64]Channel  // operator_id -> channel
	operatorBySession map[string]int64   // session_id -> operator_id
	operatorRole      map[int64]int      // operator_id -> role (1=root,2=superadmin,3=admin)
	ongoing           map[int64][]string // operator_id -> endpoint unique_ids currently streaming
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		endpoints:         make(map[string]Channel),
		endpointBySession: make(map[string]string),
		operators:         make(map[int64]Channel),
		operatorBySession: make(map[string]int64),
		operatorRole:      make(map[int64]int),
		ongoing:           make(map[int64][]string),
	}
}

// BindEndpoint registers a channel under an endpoint unique id. It fails
// silently (returns false) if the unique id is already bound; callers
// must pre-check with IsEndpointBound before calling.
func (r *Registry) BindEndpoint(uniqueID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[uniqueID]; exists {
		return false
	}
	r.endpoints[uniqueID] = ch
	r.endpointBySession[ch.ID()] = uniqueID
	slog.Info("registry: endpoint bound", "unique_id", uniqueID, "session", ch.ID())
	return true
}

// BindOperator registers a channel under an operator id with its role.
// Same fail-silently contract as BindEndpoint.
func (r *Registry) BindOperator(operatorID int64, role int, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operators[operatorID]; exists {
		return false
	}
	r.operators[operatorID] = ch
	r.operatorBySession[ch.ID()] = operatorID
	r.operatorRole[operatorID] = role
	slog.Info("registry: operator bound", "operator_id", operatorID, "session", ch.ID())
	return true
}

// OperatorRole returns the role an operator authenticated with.
func (r *Registry) OperatorRole(operatorID int64) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.operatorRole[operatorID]
	return role, ok
}

// EndpointChannel returns the channel bound to an endpoint unique id.
func (r *Registry) EndpointChannel(uniqueID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.endpoints[uniqueID]
	return ch, ok
}

// OperatorChannel returns the channel bound to an operator id.
func (r *Registry) OperatorChannel(operatorID int64) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.operators[operatorID]
	return ch, ok
}

// LookupEndpoint resolves a session id to its endpoint unique id.
func (r *Registry) LookupEndpoint(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.endpointBySession[sessionID]
	return id, ok
}

// LookupOperator resolves a session id to its operator id.
func (r *Registry) LookupOperator(sessionID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.operatorBySession[sessionID]
	return id, ok
}

// IsEndpointBound reports whether a unique id currently has a bound session.
func (r *Registry) IsEndpointBound(uniqueID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[uniqueID]
	return ok
}

// IsOperatorBound reports whether an operator id currently has a bound session.
func (r *Registry) IsOperatorBound(operatorID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.operators[operatorID]
	return ok
}

// UnbindBySession removes whichever identity (endpoint or operator, at
// most one applies) was bound to sessionID from both direct and reverse
// indices. Returns the endpoint unique id removed, if any.
func (r *Registry) UnbindBySession(sessionID string) (endpointUniqueID string, hadEndpoint bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid, ok := r.endpointBySession[sessionID]; ok {
		delete(r.endpointBySession, sessionID)
		delete(r.endpoints, uid)
		slog.Info("registry: endpoint unbound", "unique_id", uid, "session", sessionID)
		return uid, true
	}
	if opID, ok := r.operatorBySession[sessionID]; ok {
		delete(r.operatorBySession, sessionID)
		delete(r.operators, opID)
		delete(r.operatorRole, opID)
		delete(r.ongoing, opID)
		slog.Info("registry: operator unbound", "operator_id", opID, "session", sessionID)
	}
	return "", false
}

// SetOngoing records the endpoint unique ids an operator is currently
// streaming to, for observability.
func (r *Registry) SetOngoing(operatorID int64, endpointUniqueIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(endpointUniqueIDs) == 0 {
		delete(r.ongoing, operatorID)
		return
	}
	cp := make([]string, len(endpointUniqueIDs))
	copy(cp, endpointUniqueIDs)
	r.ongoing[operatorID] = cp
}

// Ongoing returns a view of which endpoints an operator is streaming to.
func (r *Registry) Ongoing(operatorID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ongoing[operatorID]))
	copy(out, r.ongoing[operatorID])
	return out
}
