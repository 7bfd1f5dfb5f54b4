package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
	"github.com/qcynaut/myrts-monorepo/server/internal/sfu"
)

// handleOffer starts a live stream on behalf of an operator: an
// operator submits an SDP offer plus a target endpoint set, the SFU
// manager builds a Publisher and one Forwarder per eligible target, and
// the server answers back on the same channel.
func handleOffer(ctx context.Context, deps dispatch.Deps, payload string) error {
	operatorID, ok := deps.Registry.LookupOperator(deps.Channel.ID())
	if !ok {
		slog.Debug("handlers: offer from non-operator session ignored", "session", deps.Channel.ID())
		return nil
	}

	var in protocol.OfferPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	if role, ok := deps.Registry.OperatorRole(operatorID); ok && protocol.OperatorRole(role) == protocol.RoleAdmin {
		authorized, err := deps.Repo.Schedules().AuthorizedEndpoints(ctx, operatorID)
		if err != nil {
			return err
		}
		if !allAuthorized(in.Target, authorized) {
			return deps.Channel.Write(protocol.EventOfferFail, protocol.OfferFailPayload{Msg: "role not allowed"})
		}
	}

	answer, err := deps.SFU.StartOffer(operatorID, string(in.Offer), in.Target, func(uniqueID string) bool {
		return deps.Registry.IsEndpointBound(uniqueID)
	})
	if err == sfu.ErrNoTargets {
		return deps.Channel.Write(protocol.EventOfferFail, protocol.OfferFailPayload{Msg: "target avs not found"})
	}
	if err != nil {
		return err
	}

	deps.Registry.SetOngoing(operatorID, targetsStreaming(deps, operatorID))

	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return deps.Channel.Write(protocol.EventAnswer, protocol.AnswerPayload{Answer: raw})
}

func allAuthorized(targets, authorized []string) bool {
	allowed := make(map[string]struct{}, len(authorized))
	for _, a := range authorized {
		allowed[a] = struct{}{}
	}
	for _, t := range targets {
		if _, ok := allowed[t]; !ok {
			return false
		}
	}
	return true
}

func targetsStreaming(deps dispatch.Deps, operatorID int64) []string {
	session, ok := deps.SFU.Session(operatorID)
	if !ok {
		return nil
	}
	out := make([]string, 0)
	for id := range session.Forwarders() {
		out = append(out, id)
	}
	return out
}
