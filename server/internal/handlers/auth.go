package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
)

// handleAuth implements the auth event for both client kinds. Auth
// failures close the channel with no user-visible error frame.
func handleAuth(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.AuthPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		slog.Warn("handlers: malformed auth payload", "session", deps.Channel.ID(), "err", err)
		return nil
	}

	switch in.ClientType {
	case protocol.ClientTypeOperator:
		return authOperator(ctx, deps, in)
	case protocol.ClientTypeEndpoint:
		return authEndpoint(ctx, deps, in)
	default:
		slog.Warn("handlers: unknown client_type", "session", deps.Channel.ID(), "client_type", in.ClientType)
		_ = deps.Channel.Close()
		return nil
	}
}

func authOperator(ctx context.Context, deps dispatch.Deps, in protocol.AuthPayload) error {
	result, session, err := deps.Repo.Sessions().Lookup(ctx, in.ClientID)
	if err != nil {
		return fmt.Errorf("handlers: lookup operator session: %w", err)
	}
	if result != repo.SessionValid {
		slog.Info("handlers: operator token invalid or expired, closing", "session", deps.Channel.ID())
		_ = deps.Channel.Close()
		return nil
	}
	if deps.Registry.IsOperatorBound(session.OperatorID) {
		slog.Info("handlers: operator already bound, rejecting replay", "operator_id", session.OperatorID)
		_ = deps.Channel.Close()
		return nil
	}
	if !deps.Registry.BindOperator(session.OperatorID, session.Role, deps.Channel) {
		_ = deps.Channel.Close()
		return nil
	}
	return deps.Channel.Write(protocol.EventAuthenticated, "")
}

func authEndpoint(ctx context.Context, deps dispatch.Deps, in protocol.AuthPayload) error {
	if deps.Registry.IsEndpointBound(in.ClientID) {
		slog.Info("handlers: endpoint already bound, rejecting", "unique_id", in.ClientID)
		_ = deps.Channel.Close()
		return nil
	}

	endpoints := deps.Repo.Endpoints()
	ep, err := endpoints.Get(ctx, in.ClientID)
	switch {
	case err == repo.ErrNotFound:
		ep, err = endpoints.CreatePending(ctx, in.ClientID)
		if err != nil {
			return fmt.Errorf("handlers: create pending endpoint: %w", err)
		}
		if !deps.Registry.BindEndpoint(in.ClientID, deps.Channel) {
			_ = deps.Channel.Close()
			return nil
		}
		slog.Info("handlers: new endpoint registered pending approval", "unique_id", in.ClientID)
		return nil
	case err != nil:
		return fmt.Errorf("handlers: lookup endpoint: %w", err)
	}

	if !deps.Registry.BindEndpoint(in.ClientID, deps.Channel) {
		_ = deps.Channel.Close()
		return nil
	}
	if err := endpoints.SetStatus(ctx, in.ClientID, repo.EndpointConnected); err != nil {
		slog.Warn("handlers: set endpoint connected failed", "unique_id", in.ClientID, "err", err)
	}
	if ep.Pending {
		return nil
	}
	return deps.Channel.Write(protocol.EventAuthenticated, "")
}
