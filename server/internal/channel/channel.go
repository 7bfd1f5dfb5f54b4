// Package channel implements the per-connection message channel: a framed, full-duplex
// text-message abstraction over one websocket connection. Every frame is a
// {"event","data"} JSON object; data is an inner JSON document the channel
// never inspects.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qcynaut/myrts-monorepo/server/internal/protocol"
)

// ErrConnectionLost is returned from Read/Write once the underlying
// transport has closed.
var ErrConnectionLost = errors.New("channel: connection lost")

// ErrDecode is returned from Read when an inbound frame cannot be parsed.
var ErrDecode = errors.New("channel: malformed frame")

const writeTimeout = 5 * time.Second

// Channel wraps one *websocket.Conn with the MessageChannel contract.
// Multiple goroutines may call Write concurrently; exactly one goroutine
// should call Read at a time.
type Channel struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// New wraps an accepted/dialed websocket connection in a Channel with a
// freshly minted session id.
func New(conn *websocket.Conn) *Channel {
	return &Channel{id: uuid.NewString(), conn: conn}
}

// ID returns the channel's session id. Stable for the life of the channel.
func (c *Channel) ID() string { return c.id }

// Read blocks until one frame arrives and returns its event name and the
// still-encoded inner payload.
func (c *Channel) Read() (event string, payload string, err error) {
	var frame protocol.Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) ||
			errors.Is(err, websocket.ErrCloseSent) {
			return "", "", ErrConnectionLost
		}
		if _, ok := err.(*json.SyntaxError); ok {
			return "", "", ErrDecode
		}
		return "", "", ErrConnectionLost
	}
	return frame.Event, frame.Data, nil
}

// Write serializes payload to JSON, wraps it in a Frame, and sends it as a
// single text frame. Safe for concurrent use: writers are serialized
// internally so interleaved calls never split a frame.
func (c *Channel) Write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("channel: marshal payload for %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(protocol.Frame{Event: event, Data: string(data)}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Close is idempotent. Subsequent Read calls return ErrConnectionLost.
func (c *Channel) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
