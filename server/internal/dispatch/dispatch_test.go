package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qcynaut/myrts-monorepo/server/internal/channel"
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
	client, server := startPair(t)
	defer client.Close()

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
		d.Serve(context.Background(), Deps{Channel: server})
		close(done)
	}()

	client.Close()
	<-done

	if len(seen) != 2 || seen[0] != "start" || seen[1] != "end" {
		t.Fatalf("seen = %v, want [start end]", seen)
	}
}

func TestServeDispatchesInboundFrameToHandler(t *testing.T) {
	client, server := startPair(t)
	defer client.Close()
	defer server.Close()

	gotEvent := make(chan string, 1)
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("ping", func(ctx context.Context, deps Deps, payload string) error {
		gotEvent <- payload
		return nil
	})

	go d.Serve(context.Background(), Deps{Channel: server})

	if err := client.Write("ping", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case payload := <-gotEvent:
		if payload != `{"x":"y"}` {
			t.Fatalf("payload = %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

// TestSpawnDoesNotDeadlineHandlers guards against reintroducing a
// per-handler context.WithTimeout(ctx, ShutdownGrace) in spawn: the
// dispatcher must hand a handler the connection's own ctx untouched, not
// one pre-loaded with a deadline, since ShutdownGrace bounds Shutdown's
// wait for in-flight handlers, not an individual handler's run time.
func TestSpawnDoesNotDeadlineHandlers(t *testing.T) {
	client, server := startPair(t)
	defer client.Close()
	defer server.Close()

	checked := make(chan bool, 1)
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("probe", func(ctx context.Context, deps Deps, payload string) error {
		_, hasDeadline := ctx.Deadline()
		checked <- hasDeadline
		return nil
	})

	go d.Serve(context.Background(), Deps{Channel: server})

	if err := client.Write("probe", ""); err != nil {
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

func TestServeUnknownEventIsIgnoredNotFatal(t *testing.T) {
	client, server := startPair(t)
	defer client.Close()
	defer server.Close()

	gotPong := make(chan struct{}, 1)
	d := New()
	d.Register("start", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("end", func(ctx context.Context, deps Deps, payload string) error { return nil })
	d.Register("pong", func(ctx context.Context, deps Deps, payload string) error {
		gotPong <- struct{}{}
		return nil
	})

	go d.Serve(context.Background(), Deps{Channel: server})

	if err := client.Write("no_such_event", ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.Write("pong", ""); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher stopped reading after an unknown event")
	}
}
