// Command server boots the coordination and media-forwarding core
// of the platform: it wires the Registry, Dispatcher, protocol handlers,
// SFU manager, and narrow repository together and starts listening for
// operator and endpoint connections over the signaling HTTP surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/qcynaut/myrts-monorepo/server/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/server/internal/handlers"
	"github.com/qcynaut/myrts-monorepo/server/internal/httpapi"
	"github.com/qcynaut/myrts-monorepo/server/internal/registry"
	"github.com/qcynaut/myrts-monorepo/server/internal/repo"
	"github.com/qcynaut/myrts-monorepo/server/internal/sfu"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// configureLogging installs the process-wide slog handler at the level
// named by LOG_LEVEL/-log-level, defaulting to info on an unrecognized value.
func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	addr := flag.String("addr", getenv("API_PORT", ":8080"), "signaling HTTP/WebSocket listen address")
	dbPath := flag.String("db", getenv("DATABASE_URL", "myrts.db"), "SQLite database path")
	logLevel := flag.String("log-level", getenv("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	configureLogging(*logLevel)

	store, err := repo.Open(*dbPath)
	if err != nil {
		slog.Error("server: open database failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := registry.New()

	d := dispatch.New()
	handlers.Register(d)

	sendToEndpoint := func(uniqueID, event string, payload any) bool {
		ch, ok := reg.EndpointChannel(uniqueID)
		if !ok {
			return false
		}
		return ch.Write(event, payload) == nil
	}
	sendToOperator := func(operatorID int64, event string, payload any) bool {
		ch, ok := reg.OperatorChannel(operatorID)
		if !ok {
			return false
		}
		return ch.Write(event, payload) == nil
	}

	iceServers := sfu.ICEServers{
		TurnURL:      os.Getenv("TURN_URL"),
		TurnUsername: os.Getenv("TURN_USERNAME"),
		TurnPassword: os.Getenv("TURN_PASSWORD"),
	}
	mgr, err := sfu.NewManager(iceServers, sendToEndpoint, sendToOperator)
	if err != nil {
		slog.Error("server: init sfu manager failed", "err", err)
		os.Exit(1)
	}

	srv := httpapi.New(d, reg, store, mgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("server: listening", "addr", *addr)
	if err := srv.Run(ctx, *addr); err != nil {
		slog.Error("server: exited with error", "err", err)
		os.Exit(1)
	}
}
