package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qcynaut/myrts-monorepo/endpoint/internal/channel"
)

func startPair(t *testing.T) (client *channel.Channel, server *channel.Channel) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverCh := make(chan *channel.Channel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- channel.New(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return channel.New(clientConn), <-serverCh
}

func TestServeSynthesizesStartAndEnd(t *testing.T) {
	serverSide, endpointSide := startPair(t)
	defer serverSide.Close()

	var seen []string
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error {
		seen = append(seen, "start")
		return nil
	})
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error {
		seen = append(seen, "end")
		return nil
	})

	done := make(chan struct{})
	go func() {
		d.Serve(context.Background(), Deps{Channel: endpointSide})
		close(done)
	}()

	serverSide.Close()
	<-done

	if len(seen) != 2 || seen[0] != "start" || seen[1] != "end" {
		t.Fatalf("seen = %v, want [start end]", seen)
	}
}

func TestServeDispatchesInboundFrameToHandler(t *testing.T) {
	serverSide, endpointSide := startPair(t)
	defer serverSide.Close()
	defer endpointSide.Close()

	gotEvent := make(chan string, 1)
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("authenticated", func(ctx context.Context, deps Deps, payload string) error {
		gotEvent <- payload
		return nil
	})

	go d.Serve(context.Background(), Deps{Channel: endpointSide})

	if err := serverSide.Write("authenticated", ""); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-gotEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

// TestSpawnDoesNotDeadlineHandlers guards against reintroducing a
// per-handler context.WithTimeout(ctx, ShutdownGrace) in spawn: the
// dispatcher must hand a handler the connection's own ctx untouched, not
// one pre-loaded with a deadline, since handleCommand's shell execution
// must be allowed to run past ShutdownGrace's 5 seconds.
func TestSpawnDoesNotDeadlineHandlers(t *testing.T) {
	serverSide, endpointSide := startPair(t)
	defer serverSide.Close()
	defer endpointSide.Close()

	checked := make(chan bool, 1)
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("probe", func(ctx context.Context, deps Deps, payload string) error {
		_, hasDeadline := ctx.Deadline()
		checked <- hasDeadline
		return nil
	})

	go d.Serve(context.Background(), Deps{Channel: endpointSide})

	if err := serverSide.Write("probe", ""); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case hasDeadline := <-checked:
		if hasDeadline {
			t.Fatal("handler ctx carries a deadline; spawn must not bound normal handler invocations")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}
