package sfu

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// EndpointSender is how the Manager reaches an endpoint's MessageChannel
// without importing the registry or channel packages; handlers supply it.
type EndpointSender func(endpointUniqueID string, event string, payload any) bool

// OperatorSender is the same for delivering frames back to the operator
// that owns a stream.
type OperatorSender func(operatorID int64, event string, payload any) bool

// Manager owns every live StreamSession and the avs_map reverse index
// (endpoint unique id -> operator id).
type Manager struct {
	api     *webrtc.API
	servers ICEServers

	sendToEndpoint EndpointSender
	sendToOperator OperatorSender

	mu       sync.Mutex
	sessions map[int64]*StreamSession // operator_id -> session
	avsMap   map[string]int64         // endpoint_unique_id -> operator_id
}

// NewManager builds a Manager with a fresh Opus/48kHz/stereo media API.
func NewManager(servers ICEServers, sendToEndpoint EndpointSender, sendToOperator OperatorSender) (*Manager, error) {
	api, err := MediaAPI()
	if err != nil {
		return nil, err
	}
	return &Manager{
		api:            api,
		servers:        servers,
		sendToEndpoint: sendToEndpoint,
		sendToOperator: sendToOperator,
		sessions:       make(map[int64]*StreamSession),
		avsMap:         make(map[string]int64),
	}, nil
}

// AVSOwner returns the operator id currently streaming to an endpoint, if
// any. This is the read side of avs_map, used by handlers routing `answer`/`ices`
// from an endpoint back to the right StreamSession.
func (m *Manager) AVSOwner(endpointUniqueID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.avsMap[endpointUniqueID]
	return id, ok
}

// AVSMapSnapshot returns a copy of the full endpoint->operator_id reverse
// index, the view served by httpapi's /debug/streams route.
func (m *Manager) AVSMapSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.avsMap))
	for k, v := range m.avsMap {
		out[k] = v
	}
	return out
}

// Session returns the StreamSession owned by operatorID, if any.
func (m *Manager) Session(operatorID int64) (*StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[operatorID]
	return s, ok
}

// connectedCheck reports whether an endpoint unique id currently has a
// bound session; StartOffer uses it to drop disconnected targets.
type connectedCheck func(endpointUniqueID string) bool

// StartOffer begins a stream session: construct a Publisher from the
// operator's SDP offer, a Forwarder for each eligible target, and return
// the SDP answer to send back to the operator. Targets already streaming
// elsewhere, or not connected, are dropped per the edge-case policy; if
// every target drops, ErrNoTargets is returned and no state is retained.
func (m *Manager) StartOffer(operatorID int64, offerSDP string, targets []string, connected connectedCheck) (webrtc.SessionDescription, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerSDP), &offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: decode offer sdp: %w", err)
	}

	pub, err := newPublisher(m.api, m.servers)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	session := &StreamSession{
		OperatorID: operatorID,
		Publisher:  pub,
		forwarders: make(map[string]*Forwarder),
	}

	eligible := make([]string, 0, len(targets))
	m.mu.Lock()
	for _, t := range targets {
		if _, busy := m.avsMap[t]; busy {
			slog.Info("sfu: target already streaming, dropped at setup", "endpoint", t)
			continue
		}
		if !connected(t) {
			slog.Info("sfu: target not connected, dropped at setup", "endpoint", t)
			continue
		}
		eligible = append(eligible, t)
	}
	m.mu.Unlock()

	if len(eligible) == 0 {
		_ = pub.Close()
		return webrtc.SessionDescription{}, ErrNoTargets
	}

	answer, err := pub.AcceptOffer(offer)
	if err != nil {
		_ = pub.Close()
		return webrtc.SessionDescription{}, err
	}

	pub.OnICECandidate(func(candidates []string) {
		raw, _ := json.Marshal(candidates)
		m.sendToOperator(operatorID, "ices", map[string]string{"ices": string(raw)})
	})

	m.mu.Lock()
	m.sessions[operatorID] = session
	for _, t := range eligible {
		m.avsMap[t] = operatorID
	}
	m.mu.Unlock()

	for _, t := range eligible {
		m.addForwarder(session, t)
	}

	return answer, nil
}

// addForwarder builds one Forwarder sharing the Publisher's local track,
// wires its failure-replacement flow, and sends its offer to the target.
func (m *Manager) addForwarder(session *StreamSession, endpointUniqueID string) {
	fwd, err := newForwarder(m.api, m.servers, endpointUniqueID, session.Publisher.localTrack)
	if err != nil {
		slog.Warn("sfu: create forwarder failed", "endpoint", endpointUniqueID, "err", err)
		return
	}
	session.put(fwd)
	m.wireForwarderFailure(session, fwd)
	m.sendForwarderOffer(session.OperatorID, fwd)
}

func (m *Manager) sendForwarderOffer(operatorID int64, fwd *Forwarder) {
	offer, err := fwd.CreateOffer()
	if err != nil {
		slog.Warn("sfu: create forwarder offer failed", "endpoint", fwd.endpointUniqueID, "err", err)
		return
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return
	}
	m.sendToEndpoint(fwd.endpointUniqueID, "offer", map[string]any{"offer": json.RawMessage(raw)})
}

// wireForwarderFailure arranges that on Failed the manager replaces the
// forwarder in place, preserving the stream for every other subscriber.
func (m *Manager) wireForwarderFailure(session *StreamSession, fwd *Forwarder) {
	fwd.OnFailed(func() {
		slog.Info("sfu: forwarder failed, replacing", "endpoint", fwd.endpointUniqueID, "operator", session.OperatorID)
		_ = fwd.Close()
		session.remove(fwd.endpointUniqueID)
		m.addForwarder(session, fwd.endpointUniqueID)
	})
}

// AcceptAnswer routes an endpoint's answer into its Forwarder.
func (m *Manager) AcceptAnswer(endpointUniqueID, answerSDP string) error {
	operatorID, ok := m.AVSOwner(endpointUniqueID)
	if !ok {
		return fmt.Errorf("sfu: no active stream for endpoint %s", endpointUniqueID)
	}
	session, ok := m.Session(operatorID)
	if !ok {
		return fmt.Errorf("sfu: no session for operator %d", operatorID)
	}
	fwd, ok := session.get(endpointUniqueID)
	if !ok {
		return fmt.Errorf("sfu: no forwarder for endpoint %s", endpointUniqueID)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(answerSDP), &answer); err != nil {
		return fmt.Errorf("sfu: decode answer sdp: %w", err)
	}
	return fwd.AcceptAnswer(answer)
}

// AcceptOperatorICE routes the operator's trickled candidates into the
// Publisher of the session they own.
func (m *Manager) AcceptOperatorICE(operatorID int64, candidatesJSON string) error {
	session, ok := m.Session(operatorID)
	if !ok {
		return fmt.Errorf("sfu: no session for operator %d", operatorID)
	}
	var candidates []string
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return fmt.Errorf("sfu: decode ices: %w", err)
	}
	for _, c := range candidates {
		if err := session.Publisher.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// EndpointICE routes an endpoint's trickled candidates into its Forwarder.
func (m *Manager) EndpointICE(endpointUniqueID, candidatesJSON string) error {
	operatorID, ok := m.AVSOwner(endpointUniqueID)
	if !ok {
		return fmt.Errorf("sfu: no active stream for endpoint %s", endpointUniqueID)
	}
	session, ok := m.Session(operatorID)
	if !ok {
		return fmt.Errorf("sfu: no session for operator %d", operatorID)
	}
	fwd, ok := session.get(endpointUniqueID)
	if !ok {
		return fmt.Errorf("sfu: no forwarder for endpoint %s", endpointUniqueID)
	}
	var candidates []string
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return fmt.Errorf("sfu: decode ices: %w", err)
	}
	for _, c := range candidates {
		if err := fwd.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// SetVolume re-emits a volume update to every forwarder's endpoint.
func (m *Manager) SetVolume(operatorID int64, volume string) {
	session, ok := m.Session(operatorID)
	if !ok {
		return
	}
	for _, endpointUniqueID := range session.endpoints() {
		m.sendToEndpoint(endpointUniqueID, "volume", map[string]string{"volume": volume})
	}
}

// CloseSession tears down a Publisher and every Forwarder it owns,
// removing all avs_map entries.
func (m *Manager) CloseSession(operatorID int64) {
	m.mu.Lock()
	session, ok := m.sessions[operatorID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, operatorID)
	for id, owner := range m.avsMap {
		if owner == operatorID {
			delete(m.avsMap, id)
		}
	}
	m.mu.Unlock()

	for _, endpointUniqueID := range session.endpoints() {
		m.sendToEndpoint(endpointUniqueID, "stream:close", "")
	}
	for _, fwd := range session.Forwarders() {
		_ = fwd.Close()
	}
	_ = session.Publisher.Close()
}

// RemoveEndpoint drops one endpoint out of whatever session it belongs
// to, without tearing down the rest of the stream. Used when an
// endpoint's own session disconnects while still subscribed.
func (m *Manager) RemoveEndpoint(endpointUniqueID string) {
	operatorID, ok := m.AVSOwner(endpointUniqueID)
	if !ok {
		return
	}
	session, ok := m.Session(operatorID)
	if !ok {
		return
	}
	fwd, ok := session.get(endpointUniqueID)
	if !ok {
		return
	}
	session.remove(endpointUniqueID)
	m.mu.Lock()
	delete(m.avsMap, endpointUniqueID)
	m.mu.Unlock()
	_ = fwd.Close()
}
