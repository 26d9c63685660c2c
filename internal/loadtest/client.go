// Package loadtest provides a WebSocket client that speaks the pairchat
// protocol and a collector for latency statistics. It backs the pairload
// command.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Server -> client message types the load generator reacts to.
const (
	TypeSessionCreated      = "session_created"
	TypeOnlineCount         = "online_count"
	TypeMatched             = "matched"
	TypeChatMessage         = "chat_message"
	TypePartnerDisconnected = "partner_disconnected"
	TypeRateLimited         = "rate_limited"
	TypeError               = "error"
)

// Client is one simulated participant. Handlers are registered with On
// before Start and run on the read goroutine.
type Client struct {
	conn           net.Conn
	src            io.Reader
	writeMu        sync.Mutex
	handlers       map[string]func(json.RawMessage)
	sessionID      string
	session        chan struct{}
	sessionOnce    sync.Once
	done           chan struct{}
	closeOnce      sync.Once
	connectLatency time.Duration

	mu       sync.Mutex
	received int
	sent     int
	err      error
}

// Dial connects to a pairchat WebSocket endpoint. Call Start to begin
// reading.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:           conn,
		src:            conn,
		handlers:       make(map[string]func(json.RawMessage)),
		session:        make(chan struct{}),
		done:           make(chan struct{}),
		connectLatency: time.Since(start),
	}
	if br != nil {
		// Frames that arrived with the handshake response are buffered here.
		c.src = br
	}
	return c, nil
}

// On registers a handler for a server message type. It must be called
// before Start.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Start launches the read loop.
func (c *Client) Start() {
	go c.readLoop()
}

// Send writes a client message of the given type with extra fields.
func (c *Client) Send(msgType string, fields map[string]interface{}) error {
	msg := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		msg[k] = v
	}
	msg["type"] = msgType
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

// WaitForSession blocks until session_created arrives, the connection
// closes, or ctx is done.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the public ID announced by the server.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ConnectLatency is the time the WebSocket handshake took.
func (c *Client) ConnectLatency() time.Duration {
	return c.connectLatency
}

// Counts returns the number of messages received and sent so far.
func (c *Client) Counts() (received, sent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received, c.sent
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// control answers pings and ends the read loop on a close frame.
func (c *Client) control(h ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch h.OpCode {
	case ws.OpClose:
		return io.EOF
	case ws.OpPing:
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return wsutil.WriteClientMessage(c.conn, ws.OpPong, payload)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.fail(err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, rd); err != nil {
				c.fail(err)
				return
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			c.fail(err)
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var env struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	c.mu.Lock()
	c.received++
	if env.Type == TypeSessionCreated {
		c.sessionID = env.SessionID
	}
	c.mu.Unlock()

	if env.Type == TypeSessionCreated {
		c.sessionOnce.Do(func() { close(c.session) })
	}
	if h, ok := c.handlers[env.Type]; ok {
		h(json.RawMessage(data))
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
