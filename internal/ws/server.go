// Package ws handles WebSocket connection management: upgrading HTTP
// connections, watching them for readable frames with epoll, reading frames on
// a bounded worker pool, and delivering outbound messages through per-connection
// queues.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/geo"
	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":3000"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for reading one frame once readable
	WriteTimeout   time.Duration // timeout for writing one frame
	OutboxSize     int           // queued outbound messages per connection
	MaxMessageSize int64         // largest accepted client message in bytes
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":3000",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		OutboxSize:     64,
		MaxMessageSize: 64 << 10,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Handler receives connection lifecycle events and client messages. Open is
// called before the first Message. Close is called exactly once after the
// last, and only for connections that were opened.
// Message is called from a worker goroutine; calls for one connection never
// overlap.
type Handler interface {
	Open(c *Connection)
	Message(c *Connection, data []byte)
	Close(c *Connection)
}

// Server is the WebSocket server built on gobwas/ws and epoll. It upgrades
// HTTP connections on /ws, registers them with the poller for readiness
// notifications, and dispatches ready connections to a bounded worker pool for
// frame reading.
type Server struct {
	config     ServerConfig
	log        *zap.Logger
	poller     *poller
	conns      *ConnectionManager
	handler    Handler
	limiter    ratelimit.Checker
	workerPool chan struct{} // semaphore limiting concurrent read workers
	mux        *http.ServeMux
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a Server. A nil limiter admits every connection.
func NewServer(config ServerConfig, limiter ratelimit.Checker, logger *zap.Logger) *Server {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:     config,
		log:        logger.Named("ws"),
		conns:      NewConnectionManager(),
		limiter:    limiter,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetHandler assigns the application handler. It must be called before
// Start. The handler is usually built after the server because it delivers
// its messages through Send.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// Handle registers an additional HTTP route next to /ws.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen: %w", err)
	}
	return s.Serve(l)
}

// Serve initializes the poller, starts the event loop and heartbeat, and
// blocks serving HTTP on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if err := s.start(); err != nil {
		l.Close()
		return err
	}

	s.log.Info("server listening",
		zap.String("addr", l.Addr().String()),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections),
	)

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) start() error {
	if s.handler == nil {
		return errors.New("ws: no handler set")
	}
	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}
	s.poller = p

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)
	return nil
}

// handleUpgrade enforces the connection cap and the per-address connect
// limit, upgrades the request with the gobwas/ws zero-copy upgrader and
// registers the new connection.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	addr := geo.ClientAddress(r)
	key := addr
	if key == "" {
		key = geo.LocalIP
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	decision, err := s.limiter.Allow(ctx, key, ratelimit.RuleConnect)
	cancel()
	if err != nil {
		s.log.Warn("connect rate limit check failed", zap.String("addr", key), zap.Error(err))
	}
	if !decision.Allowed {
		metrics.DroppedTotal.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetrySeconds(decision.RetryAfter)))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), conn, addr, s.config.OutboxSize, s.config.WriteTimeout)
	s.conns.Add(c)
	go c.writeLoop(func(err error) {
		s.log.Debug("write failed", zap.String("conn", c.ID), zap.Error(err))
		s.RemoveConnection(c)
	})

	if !s.open(c) {
		s.log.Debug("connection gone before open", zap.String("conn", c.ID))
		return
	}

	if err := s.poller.add(c); err != nil {
		s.log.Error("poller add failed", zap.String("conn", c.ID), zap.Error(err))
		s.RemoveConnection(c)
		return
	}

	s.log.Debug("connection opened", zap.String("conn", c.ID), zap.Int("total", s.conns.Count()))
}

// open passes c to the handler unless it was already removed. A removal
// racing with open waits for Open to return and then runs Close, so the
// handler sees either both calls or neither.
func (s *Server) open(c *Connection) bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.removed {
		return false
	}
	s.handler.Open(c)
	c.opened = true
	return true
}

// startEventLoop runs the poller wait loop. Each ready connection is read by
// a worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			s.log.Error("poller wait failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for _, c := range conns {
			c := c
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(c)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection, then either re-arms
// the connection in the poller or removes it.
func (s *Server) handleConn(c *Connection) {
	if s.conns.Get(c.ID) != c {
		return
	}
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}

	keep := s.readFrame(c)
	atomic.StoreInt32(&c.processing, 0)

	if !keep {
		s.RemoveConnection(c)
		return
	}
	if err := s.poller.resume(c); err != nil {
		s.log.Debug("poller resume failed", zap.String("conn", c.ID), zap.Error(err))
		s.RemoveConnection(c)
	}
}

// readFrame reads and handles a single frame. Control frames are answered
// here; a complete data message is passed to the handler. It reports whether
// the connection should stay open.
func (s *Server) readFrame(c *Connection) bool {
	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		defer c.Conn.SetReadDeadline(time.Time{})
	}

	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateServerSide,
		OnIntermediate: s.controlHandler(c),
	}
	header, err := rd.NextFrame()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Readable but no complete header yet; the heartbeat handles dead peers.
			return true
		}
		return false
	}

	c.touch()

	if header.OpCode.IsControl() {
		return s.controlHandler(c)(header, rd) == nil
	}
	if header.OpCode == ws.OpContinuation {
		return false
	}

	data, err := io.ReadAll(io.LimitReader(rd, s.config.MaxMessageSize+1))
	if err != nil {
		return false
	}
	if int64(len(data)) > s.config.MaxMessageSize {
		s.log.Warn("message too large", zap.String("conn", c.ID), zap.Int("size", len(data)))
		return false
	}
	if len(data) == 0 {
		return true
	}

	s.handler.Message(c, data)
	return true
}

// controlHandler answers pings and turns a close frame into an error so the
// connection is removed.
func (s *Server) controlHandler(c *Connection) wsutil.FrameHandlerFunc {
	return func(h ws.Header, r io.Reader) error {
		payload, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		switch h.OpCode {
		case ws.OpClose:
			return io.EOF
		case ws.OpPing:
			return c.write(ws.OpPong, payload)
		}
		return nil
	}
}

// Send encodes msg and queues it for connID. Unknown connections are
// ignored. A connection whose queue is full is dropped, because losing a
// message would leave its client out of step with the server.
//
// Send never blocks, so it is safe to call while holding other locks.
func (s *Server) Send(connID string, msg protocol.Outbound) {
	c := s.conns.Get(connID)
	if c == nil {
		return
	}
	data, err := msg.Encode()
	if err != nil {
		s.log.Error("encode failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if !c.Enqueue(data) {
		select {
		case <-c.closed:
			return
		default:
		}
		metrics.DroppedTotal.WithLabelValues("outbox_full").Inc()
		s.log.Warn("outbox full, dropping connection", zap.String("conn", connID), zap.String("type", msg.Type))
		go s.RemoveConnection(c)
	}
}

// RemoveConnection unregisters c, closes it and, if the handler has opened
// it, notifies the handler. Only the first call for a connection has any
// effect.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	if s.poller != nil {
		_ = s.poller.remove(c)
	}
	_ = c.Close()

	c.lifeMu.Lock()
	c.removed = true
	opened := c.opened
	c.lifeMu.Unlock()
	if opened {
		s.handler.Close(c)
	}

	s.log.Debug("connection closed", zap.String("conn", c.ID), zap.Int("total", s.conns.Count()))
}

// Connections returns the ConnectionManager for external access to
// connection state.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, signals the event loop and heartbeat to
// exit, removes every connection and closes the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.log.Info("shutting down")
		close(s.done)

		if herr := s.httpServer.Shutdown(ctx); herr != nil {
			err = fmt.Errorf("ws: http shutdown: %w", herr)
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if s.poller != nil {
			_ = s.poller.close()
		}
		s.log.Info("server stopped")
	})
	return err
}
