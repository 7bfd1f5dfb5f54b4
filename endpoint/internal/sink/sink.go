// Package sink implements the endpoint's single playback sink: only one
// audio source, a scheduled record or a live stream, may play at a time.
// Recorded .mp3 playback shells out to an external player process;
// live-stream RTP frames are decoded from Opus for level metering via
// gopkg.in/hraban/opus.v2, since the speaker itself is driven by the
// platform's audio service, not this process.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// ErrBusy is returned by Play when the sink already has an active source.
var ErrBusy = errors.New("sink: already playing")

const (
	sampleRate = 48000
	channels   = 2
)

// newPlayerCmd builds the external player invocation for a cached .mp3
// path and volume (0.0–1.0 scale). Overridable in tests so they can
// exercise the busy/idle state machine without a real player installed.
var newPlayerCmd = func(ctx context.Context, path string, volume float64) *exec.Cmd {
	return exec.CommandContext(ctx, "ffplay",
		"-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", fmt.Sprintf("%.0f", volume*100), path)
}

// Sink owns the "only one source plays" invariant. A source is either a
// record path (scheduler tick) or a live stream (SFU consumer).
type Sink struct {
	mu      sync.Mutex
	playing bool
	cancel  context.CancelFunc
	decoder *opus.Decoder
}

// New returns an idle Sink.
func New() *Sink { return &Sink{} }

// Playing reports whether a source is currently active, the scheduler's
// already-playing skip check.
func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Play starts an external player process against a cached record path at
// the given volume (0.0–1.0 scale). Returns ErrBusy if a source is already
// active; the sink returns to idle on its own when the process exits.
func (s *Sink) Play(ctx context.Context, path string, volume float64) error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.playing = true
	s.cancel = cancel
	s.mu.Unlock()

	cmd := newPlayerCmd(runCtx, path, volume)
	if err := cmd.Start(); err != nil {
		s.clear()
		return fmt.Errorf("sink: start player: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			slog.Warn("sink: playback exited with error", "path", path, "err", err)
		}
		s.clear()
	}()
	return nil
}

// StartLiveStream marks the sink busy for an incoming live stream and
// returns a Decoder for metering forwarded Opus frames; the live-stream
// half of the "only one source plays" invariant.
func (s *Sink) StartLiveStream() (*Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nil, ErrBusy
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("sink: new opus decoder: %w", err)
	}
	s.playing = true
	s.decoder = &Decoder{dec: dec}
	return s.decoder, nil
}

// Clear stops whatever is currently playing and marks the sink idle
// again. Used on both stream start and stream end. Idempotent.
func (s *Sink) Clear() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.clear()
}

func (s *Sink) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	s.cancel = nil
	s.decoder = nil
}

// Decoder decodes forwarded Opus frames to PCM for level metering. It is
// not safe for concurrent use; the SFU consumer's single playout loop is
// its only caller.
type Decoder struct {
	dec *opus.Decoder
	pcm [sampleRate / 10 * channels]int16 // 100ms scratch buffer
}

// Feed decodes one Opus frame and returns its RMS level in [0,1], for
// telemetry/metering only; no audio is routed to hardware by this core.
func (d *Decoder) Feed(opusFrame []byte) (level float64, err error) {
	n, err := d.dec.Decode(opusFrame, d.pcm[:])
	if err != nil {
		return 0, fmt.Errorf("sink: decode opus frame: %w", err)
	}
	var sum float64
	for i := 0; i < n*channels; i++ {
		v := float64(d.pcm[i]) / 32768.0
		sum += v * v
	}
	if n == 0 {
		return 0, nil
	}
	return math.Sqrt(sum / float64(n*channels)), nil
}
