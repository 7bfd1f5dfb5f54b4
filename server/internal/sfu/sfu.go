// Package sfu implements the selective-forwarding core: one
// Publisher per operator stream, one Forwarder per subscribed endpoint,
// and the avs_map reverse index used for both routing and the single
// live-stream-per-endpoint invariant.
package sfu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNoTargets is returned when every requested endpoint was dropped
	// at setup (disconnected, or already streaming).
	ErrNoTargets = errors.New("sfu: target avs not found")
)

// MediaAPI builds the single shared pion API configured for Opus/48kHz/
// stereo/PT111, the only codec this core negotiates.
func MediaAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("sfu: register opus codec: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

// ICEServers returns the static TURN/STUN configuration handed to every
// peer connection this core builds, mirroring the turn event's payload.
type ICEServers struct {
	TurnURL      string
	TurnUsername string
	TurnPassword string
}

func (s ICEServers) webrtcServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if s.TurnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{s.TurnURL},
			Username:   s.TurnUsername,
			Credential: s.TurnPassword,
		})
	}
	return servers
}

// Forwarder wraps one outbound peer connection publishing the shared
// local track to a single target endpoint.
type Forwarder struct {
	endpointUniqueID string
	pc               *webrtc.PeerConnection
	localTrack       *webrtc.TrackLocalStaticRTP

	failed atomic.Bool

	mu           sync.Mutex
	remoteSet    bool
	candQueue    []string
}

func newForwarder(api *webrtc.API, servers ICEServers, endpointUniqueID string, localTrack *webrtc.TrackLocalStaticRTP) (*Forwarder, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers.webrtcServers()})
	if err != nil {
		return nil, fmt.Errorf("sfu: new forwarder peer connection: %w", err)
	}
	if _, err := pc.AddTrack(localTrack); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("sfu: add local track: %w", err)
	}
	return &Forwarder{endpointUniqueID: endpointUniqueID, pc: pc, localTrack: localTrack}, nil
}

// CreateOffer starts the outbound half of the Forwarder's negotiation
// and returns the SDP to deliver to the target endpoint.
func (f *Forwarder) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := f.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: create forwarder offer: %w", err)
	}
	if err := f.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: set forwarder local description: %w", err)
	}
	return offer, nil
}

// AcceptAnswer ingests the endpoint's answer, then flushes any ICE
// candidates that arrived before the remote description was installed.
func (f *Forwarder) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := f.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("sfu: set forwarder remote description: %w", err)
	}
	f.mu.Lock()
	f.remoteSet = true
	queued := f.candQueue
	f.candQueue = nil
	f.mu.Unlock()
	for _, c := range queued {
		_ = f.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c})
	}
	return nil
}

// AddICECandidate queues the candidate until the remote description is
// installed, then applies it directly thereafter.
func (f *Forwarder) AddICECandidate(candidate string) error {
	f.mu.Lock()
	if !f.remoteSet {
		f.candQueue = append(f.candQueue, candidate)
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return f.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// OnFailed registers a callback invoked exactly once when the
// Forwarder's peer connection transitions to Failed.
func (f *Forwarder) OnFailed(cb func()) {
	f.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state != webrtc.PeerConnectionStateFailed {
			return
		}
		if f.failed.CompareAndSwap(false, true) {
			cb()
		}
	})
}

// Close tears down the forwarder's peer connection.
func (f *Forwarder) Close() error {
	return f.pc.Close()
}

// EndpointUniqueID returns the target endpoint this forwarder serves.
func (f *Forwarder) EndpointUniqueID() string { return f.endpointUniqueID }

// Publisher wraps the operator's inbound peer connection. Every RTP
// packet read off its single remote audio track is copied to the
// session's shared local track.
type Publisher struct {
	pc         *webrtc.PeerConnection
	localTrack *webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	remoteSet bool
	candQueue []string
}

func newPublisher(api *webrtc.API, servers ICEServers) (*Publisher, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers.webrtcServers()})
	if err != nil {
		return nil, fmt.Errorf("sfu: new publisher peer connection: %w", err)
	}
	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "myrts-stream")
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("sfu: new shared local track: %w", err)
	}
	p := &Publisher{pc: pc, localTrack: localTrack}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go p.copyLoop(remote)
	})

	return p, nil
}

// copyLoop is the tight RTP pipe from the publisher's remote track into
// the shared local track every Forwarder publishes outbound. It exits
// once the publisher's connection leaves Connected.
func (p *Publisher) copyLoop(remote *webrtc.TrackRemote) {
	for {
		if p.pc.ConnectionState() != webrtc.PeerConnectionStateConnected &&
			p.pc.ConnectionState() != webrtc.PeerConnectionStateNew &&
			p.pc.ConnectionState() != webrtc.PeerConnectionStateConnecting {
			return
		}
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := p.localTrack.WriteRTP(pkt); err != nil {
			slog.Debug("sfu: write to shared local track failed", "err", err)
		}
	}
}

// AcceptOffer ingests the operator's SDP offer and returns the answer to
// send back.
func (p *Publisher) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: set publisher remote description: %w", err)
	}
	p.mu.Lock()
	p.remoteSet = true
	queued := p.candQueue
	p.candQueue = nil
	p.mu.Unlock()
	for _, c := range queued {
		_ = p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c})
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: create publisher answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("sfu: set publisher local description: %w", err)
	}
	return answer, nil
}

// AddICECandidate queues the candidate until the remote description is
// installed, then applies it directly thereafter.
func (p *Publisher) AddICECandidate(candidate string) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.candQueue = append(p.candQueue, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// OnICECandidate registers the gathering-complete callback that collects
// local candidates into a single `ices` message on gathering completion.
func (p *Publisher) OnICECandidate(onGatheringComplete func(candidates []string)) {
	var mu sync.Mutex
	var gathered []string
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			mu.Lock()
			out := gathered
			mu.Unlock()
			onGatheringComplete(out)
			return
		}
		mu.Lock()
		gathered = append(gathered, c.ToJSON().Candidate)
		mu.Unlock()
	})
}

// Close tears down the publisher's peer connection.
func (p *Publisher) Close() error {
	return p.pc.Close()
}

// StreamSession is one operator's live broadcast to N endpoints.
type StreamSession struct {
	OperatorID int64
	Publisher  *Publisher

	mu         sync.Mutex
	forwarders map[string]*Forwarder // endpoint_unique_id -> Forwarder
	volume     string
	liveness   time.Time
}

// Forwarders returns a snapshot of the current forwarder set.
func (s *StreamSession) Forwarders() map[string]*Forwarder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Forwarder, len(s.forwarders))
	for k, v := range s.forwarders {
		out[k] = v
	}
	return out
}

func (s *StreamSession) put(f *Forwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarders[f.endpointUniqueID] = f
}

func (s *StreamSession) get(endpointUniqueID string) (*Forwarder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forwarders[endpointUniqueID]
	return f, ok
}

func (s *StreamSession) remove(endpointUniqueID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forwarders, endpointUniqueID)
}

func (s *StreamSession) endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.forwarders))
	for id := range s.forwarders {
		out = append(out, id)
	}
	return out
}
