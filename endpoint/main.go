// Command endpoint boots this public-address hardware's side of the
// platform: it dials the server's signaling WebSocket,
// authenticates, and wires the local schedule store, record cache,
// playback sink, scheduler, and SFU consumer into the protocol
// handlers, reconnecting with backoff whenever the connection drops.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/avsinfo"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/channel"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/dispatch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/fetch"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/handlers"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/localstore"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/protocol"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/scheduler"
	"github.com/qcynaut/myrts-monorepo/endpoint/internal/sink"
)

// reconnectDelay is how long to wait before redialing after the
// connection drops.
const reconnectDelay = 5 * time.Second

// avsInfoInterval is the cadence of this endpoint's telemetry push.
const avsInfoInterval = 60 * time.Second

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

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
	apiURL := getenv("API_URL", "ws://localhost:8080/ws")
	dataPath := getenv("DATA_PATH", "./data")
	description := getenv("DEVICE_DESCRIPTION", "")
	address := getenv("DEVICE_ADDRESS", "")
	logLevel := getenv("LOG_LEVEL", "info")

	configureLogging(logLevel)

	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		slog.Error("endpoint: create data path failed", "err", err)
		os.Exit(1)
	}

	store, err := localstore.Open(dataPath + "/endpoint.db")
	if err != nil {
		slog.Error("endpoint: open local store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	clientID, err := deviceIdentity(store)
	if err != nil {
		slog.Error("endpoint: resolve device identity failed", "err", err)
		os.Exit(1)
	}

	cache, err := fetch.New(dataPath)
	if err != nil {
		slog.Error("endpoint: init record cache failed", "err", err)
		os.Exit(1)
	}
	snk := sink.New()

	d := dispatch.New()
	handlers.Register(d)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for ctx.Err() == nil {
		runOnce(ctx, d, apiURL, store, cache, snk, dispatch.Identity{
			ClientID:    clientID,
			Description: description,
			Address:     address,
			DataPath:    dataPath,
		})
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
			slog.Info("endpoint: reconnecting")
		}
	}
}

// deviceIdentity returns this device's persisted unique id, generating
// and storing a fresh one on first boot.
func deviceIdentity(store *localstore.Store) (string, error) {
	dev, err := store.Device(context.Background())
	if err == nil {
		return dev.UniqueID, nil
	}
	if err != localstore.ErrNotFound {
		return "", err
	}
	id := uuid.NewString()
	if err := store.SetDevice(context.Background(), id, true); err != nil {
		return "", err
	}
	return id, nil
}

// runOnce dials the server, wires one connection's dependencies, and
// serves it until the connection is lost.
func runOnce(ctx context.Context, d *dispatch.Dispatcher, apiURL string, store *localstore.Store, cache *fetch.Cache, snk *sink.Sink, identity dispatch.Identity) {
	ch, err := channel.Dial(apiURL)
	if err != nil {
		slog.Warn("endpoint: dial failed", "err", err)
		return
	}
	defer ch.Close()

	turn := &dispatch.TurnState{}
	stream := &dispatch.StreamState{}

	sched := scheduler.New(store, cache, snk, func(sids []int64) {
		_ = ch.Write(protocol.EventSync, protocol.SyncRequest{Local: sids})
	})
	sched.Start(ctx)

	deps := dispatch.Deps{
		Channel:   ch,
		Store:     store,
		Sink:      snk,
		Scheduler: sched,
		Identity:  identity,
		Turn:      turn,
		Stream:    stream,
	}

	avsCtx, cancelAVS := context.WithCancel(ctx)
	go reportTelemetry(avsCtx, ch, identity.DataPath)

	d.Serve(ctx, deps)
	cancelAVS()
	sched.Stop()
	stream.Clear()
}

// reportTelemetry pushes this endpoint's avs_info snapshot on a fixed
// interval.
func reportTelemetry(ctx context.Context, ch *channel.Channel, dataPath string) {
	ticker := time.NewTicker(avsInfoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Write(protocol.EventAVSInfo, avsinfo.Collect(dataPath)); err != nil {
				slog.Debug("endpoint: send avs_info failed", "err", err)
			}
		}
	}
}
