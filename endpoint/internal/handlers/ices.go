package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleIces routes the Forwarder's trickled ICE candidates into the
// active Consumer.
func handleIces(ctx context.Context, deps dispatch.Deps, payload string) error {
	cons, ok := deps.Stream.Get()
	if !ok {
		return nil
	}
	var in protocol.IcesPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}
	var candidates []string
	if err := json.Unmarshal([]byte(in.Ices), &candidates); err != nil {
		return nil
	}
	for _, c := range candidates {
		if err := cons.AddICECandidate(c); err != nil {
			slog.Debug("handlers: add ice candidate failed", "err", err)
		}
	}
	return nil
}
