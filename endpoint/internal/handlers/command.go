package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/command"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
)

// handleCommand implements the endpoint side of the bidirectional
// command event: every segment of the operator's command string is
// executed locally and the joined output is replied addressed back to
// the sender. The reply keeps the operator in sender (the server routes
// responses by it) and names this endpoint in target so the operator
// knows who answered.
func handleCommand(ctx context.Context, deps dispatch.Deps, payload string) error {
	var in protocol.CommandPayload
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return nil
	}

	output, runErr := command.Run(ctx, in.Command)
	if runErr != nil {
		slog.Warn("handlers: command spawn failed", "err", runErr)
		output += "\nfailed to execute command"
	}

	return deps.Channel.Write(protocol.EventCommand, protocol.CommandPayload{
		Response: output,
		Sender:   in.Sender,
		Target:   deps.Identity.ClientID,
	})
}
