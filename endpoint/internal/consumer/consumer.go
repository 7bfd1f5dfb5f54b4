// Package consumer implements the endpoint's half of the SFU
// negotiation: it answers the Forwarder's offer, receives the one forwarded
// audio track, and feeds each frame through a jitter buffer into the
// playback sink for level metering, the mirror image of
// server/internal/sfu.Forwarder from the receiving side.
package consumer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/jitter"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/sink"
)

// jitterDepth buffers 3 frames (~60ms at 20ms/frame) before playout.
const jitterDepth = 3

// mediaAPI builds the pion API configured for Opus/48kHz/stereo/PT111,
// the same codec registration server/internal/sfu.MediaAPI uses, since
// both sides of one negotiation must agree on payload type.
func mediaAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("consumer: register opus codec: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

func webrtcServers(turnURL, turnUsername, turnPassword string) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUsername,
			Credential: turnPassword,
		})
	}
	return servers
}

// Consumer owns the inbound peer connection for one live stream, its
// jitter buffer, and the sink decoder frames are metered through.
type Consumer struct {
	pc     *webrtc.PeerConnection
	buffer *jitter.Buffer
	dec    *sink.Decoder

	mu        sync.Mutex
	remoteSet bool
	candQueue []string

	closeOnce   sync.Once
	stopPlayout chan struct{}
}

// New builds a Consumer, registers the playback sink's live-stream
// decoder, and returns it unconnected; the caller must call AcceptOffer
// next to negotiate.
func New(turnURL, turnUsername, turnPassword string, snk *sink.Sink) (*Consumer, error) {
	api, err := mediaAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: webrtcServers(turnURL, turnUsername, turnPassword),
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: new peer connection: %w", err)
	}

	dec, err := snk.StartLiveStream()
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	c := &Consumer{pc: pc, buffer: jitter.New(jitterDepth), dec: dec, stopPlayout: make(chan struct{})}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go c.readLoop(remote)
	})

	go c.playoutLoop()

	return c, nil
}

// readLoop pulls RTP packets off the forwarded track and pushes them
// into the jitter buffer by sequence number.
func (c *Consumer) readLoop(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		c.buffer.Push(pkt.SequenceNumber, pkt.Payload)
	}
}

// playoutLoop ticks every 20ms (one Opus frame at 48kHz), draining the
// jitter buffer and feeding decoded frames into the sink for metering. A
// tick with no frame yet (buffer still priming) or a nil OpusData
// (missing packet) is skipped rather than concealed, since no audio is
// routed to hardware by this core.
func (c *Consumer) playoutLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPlayout:
			return
		case <-ticker.C:
			f, ok := c.buffer.Pop()
			if !ok || f.OpusData == nil {
				continue
			}
			if _, err := c.dec.Feed(f.OpusData); err != nil {
				slog.Debug("consumer: decode forwarded frame failed", "err", err)
			}
		}
	}
}

// AcceptOffer ingests the Forwarder's SDP offer and returns the answer to
// send back over the channel.
func (c *Consumer) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("consumer: set remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	queued := c.candQueue
	c.candQueue = nil
	c.mu.Unlock()
	for _, cand := range queued {
		_ = c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: cand})
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("consumer: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("consumer: set local description: %w", err)
	}
	return answer, nil
}

// AddICECandidate queues the candidate until the remote description is
// installed, then applies it directly thereafter.
func (c *Consumer) AddICECandidate(candidate string) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.candQueue = append(c.candQueue, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// OnICECandidate registers the gathering-complete callback that collects
// local candidates into a single `ices` message, mirroring
// server/internal/sfu.Publisher.OnICECandidate.
func (c *Consumer) OnICECandidate(onGatheringComplete func(candidates []string)) {
	var mu sync.Mutex
	var gathered []string
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			mu.Lock()
			out := gathered
			mu.Unlock()
			onGatheringComplete(out)
			return
		}
		mu.Lock()
		gathered = append(gathered, ic.ToJSON().Candidate)
		mu.Unlock()
	})
}

// OnFailed registers a callback invoked once when the peer connection
// transitions to Failed, so the caller can tear down and resync.
func (c *Consumer) OnFailed(cb func()) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			cb()
		}
	})
}

// Close stops the playout loop, resets the jitter buffer, and closes the
// peer connection. It leaves the sink marked busy; Sink.Clear, reached
// through Scheduler.Block/Unblock, releases it. Idempotent: stream:close,
// session end, and a Failed peer may all race to call it.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopPlayout)
	})
	c.buffer.Reset()
	return c.pc.Close()
}
