package channel

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func startEchoServer(t *testing.T) (*Channel, *Channel) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverCh := make(chan *Channel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- New(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return New(clientConn), <-serverCh
}

func TestChannelWriteReadRoundTrip(t *testing.T) {
	client, server := startEchoServer(t)
	defer client.Close()
	defer server.Close()

	if err := client.Write("ping", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	event, payload, err := server.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if event != "ping" {
		t.Fatalf("event = %q, want ping", event)
	}
	if payload != `{"hello":"world"}` {
		t.Fatalf("payload = %q", payload)
	}
}

func TestChannelIDStable(t *testing.T) {
	client, server := startEchoServer(t)
	defer client.Close()
	defer server.Close()

	id1 := server.ID()
	id2 := server.ID()
	if id1 != id2 || id1 == "" {
		t.Fatalf("ID not stable: %q vs %q", id1, id2)
	}
}

func TestChannelConcurrentWritesDoNotInterleave(t *testing.T) {
	client, server := startEchoServer(t)
	defer client.Close()
	defer server.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = client.Write("ping", map[string]int{"i": i})
		}(i)
	}
	wg.Wait()

	seen := 0
	for seen < n {
		event, payload, err := server.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if event != "ping" || len(payload) == 0 {
			t.Fatalf("frame split or corrupted: event=%q payload=%q", event, payload)
		}
		seen++
	}
}

func TestChannelCloseIdempotentAndUnblocksRead(t *testing.T) {
	client, server := startEchoServer(t)
	defer client.Close()

	if err := server.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, _, err := server.Read(); err != ErrConnectionLost {
		t.Fatalf("read after close = %v, want ErrConnectionLost", err)
	}
}
