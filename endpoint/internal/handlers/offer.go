package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/consumer"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleOffer answers an incoming live stream: a
// Forwarder's SDP offer arrives, this endpoint answers it with a fresh
// Consumer, blocks the scheduler for the duration of the stream, and
// sends the answer back.
func handleOffer(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.OfferPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(in.Offer, &offer); err != nil {
		return fmt.Errorf("handlers: decode offer sdp: %w", err)
	}

	deps.Scheduler.Block()

	creds := deps.Turn.Get()
	cons, err := consumer.New(creds.URL, creds.Username, creds.Password, deps.Sink)
	if err != nil {
		deps.Scheduler.Unblock()
		return fmt.Errorf("handlers: build consumer: %w", err)
	}

	answer, err := cons.AcceptOffer(offer)
	if err != nil {
		_ = cons.Close()
		deps.Scheduler.Unblock()
		return fmt.Errorf("handlers: accept offer: %w", err)
	}

	deps.Stream.Set(cons)

	cons.OnICECandidate(func(candidates []string) {
		raw, err := json.Marshal(candidates)
		if err != nil {
			return
		}
		if err := deps.Channel.Write(protocol.EventIces, protocol.IcesPayload{Ices: string(raw)}); err != nil {
			slog.Debug("handlers: send ices failed", "err", err)
		}
	})
	cons.OnFailed(func() {
		slog.Info("handlers: consumer connection failed, clearing stream")
		deps.Stream.Clear()
		deps.Scheduler.Unblock()
	})

	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return deps.Channel.Write(protocol.EventAnswer, protocol.AnswerPayload{Answer: raw})
}
