package ws

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection. Outbound text
// frames go through a bounded queue drained by one writer goroutine; control
// frames are written directly. Both paths share the write mutex so frames
// never interleave.
type Connection struct {
	ID         string    // connection ID (UUID), the engine's connID
	Conn       net.Conn  // underlying TCP connection
	RemoteAddr string    // client address, proxy headers honored
	CreatedAt  time.Time // when the connection was established

	src          io.Reader // frame source; buffered on platforms without epoll
	fd           int       // file descriptor for epoll lookups
	resume       chan struct{}
	send         chan []byte
	writeMu      sync.Mutex // serializes writes to this connection
	writeTimeout time.Duration
	lastSeen     atomic.Int64 // unix nanos of the last frame read
	processing   int32        // atomic flag: 0 = idle, 1 = being read by a worker
	closeOnce    sync.Once
	closed       chan struct{}

	// lifeMu orders handler Open against removal.
	lifeMu  sync.Mutex
	opened  bool
	removed bool
}

func newConnection(id string, conn net.Conn, addr string, outboxSize int, writeTimeout time.Duration) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		RemoteAddr:   addr,
		CreatedAt:    now,
		src:          conn,
		fd:           -1,
		send:         make(chan []byte, outboxSize),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Enqueue queues a text frame for the writer goroutine. It never blocks and
// reports false when the queue is full or the connection is closed.
func (c *Connection) Enqueue(msg []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue until the connection closes. onError
// is called once if a write fails.
func (c *Connection) writeLoop(onError func(error)) {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(ws.OpText, msg); err != nil {
				onError(err)
				return
			}
		}
	}
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.write(ws.OpPing, nil)
}

func (c *Connection) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, op, payload)
}

// touch records activity on the connection.
func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the last frame was read from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Close stops the writer and closes the underlying network connection. It
// is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// ConnectionManager is a thread-safe registry of live connections keyed by
// connection ID.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection with the given ID. Returns true if the
// connection was found and removed, false if it was already gone. The
// connection is not closed.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	_, ok := cm.byID[id]
	delete(cm.byID, id)
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
