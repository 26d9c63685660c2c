package matching

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/geo"
	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/session"
)

// Outbox delivers a server message to one connection. Engine calls Send while
// holding its lock, so implementations must not block and must not call back
// into the Engine. Sending to an unknown connection is a no-op.
type Outbox interface {
	Send(connID string, msg protocol.Outbound)
}

// Engine owns the session registry and the waiting queue. Every exported
// method takes the engine lock for its whole duration, so each inbound event
// is applied atomically with respect to all others and outbound messages are
// handed to the Outbox in the order the state changes happened.
//
// Missing sessions are never an error: an event for a connection that is
// already gone does nothing.
type Engine struct {
	mu       sync.Mutex
	sessions *session.Registry
	queue    *Queue
	geo      geo.Provider
	out      Outbox
	log      *zap.Logger
	now      func() time.Time

	totalConnections uint64
	totalMatches     uint64
	startedAt        time.Time
}

// NewEngine creates an Engine delivering through out. A nil provider tags
// every session as Unknown.
func NewEngine(out Outbox, provider geo.Provider, logger *zap.Logger) *Engine {
	if provider == nil {
		provider = geo.UnknownProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sessions:  session.NewRegistry(),
		queue:     NewQueue(),
		geo:       provider,
		out:       out,
		log:       logger,
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// Connect creates an idle session for connID, tags it with the location of
// addr, and broadcasts the new online count. It returns the session's public
// ID.
func (e *Engine) Connect(connID, addr string) string {
	tag := e.geo.Lookup(addr)

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Create(connID, tag)
	e.totalConnections++
	metrics.ConnectionsTotal.Inc()

	e.log.Info("connected",
		zap.String("id", s.PublicID),
		zap.String("city", tag.City),
		zap.String("country", tag.Country),
		zap.Int("online", e.sessions.Len()),
	)

	e.send(connID, protocol.TypeSessionCreated, protocol.SessionCreatedMsg{SessionID: s.PublicID})
	e.broadcastOnline()
	return s.PublicID
}

// Disconnect tears down the session for connID: the partner, if any, is told
// and left idle, the session leaves the queue and the registry, and the new
// online count is broadcast. Once Disconnect returns, connID is unknown to the
// engine.
func (e *Engine) Disconnect(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(connID)
	if s == nil {
		return
	}

	e.leave(connID, causeDisconnect)
	e.queue.Remove(connID)
	e.sessions.Remove(connID)

	e.log.Info("disconnected",
		zap.String("id", s.PublicID),
		zap.String("name", s.Name),
		zap.Int("online", e.sessions.Len()),
	)
	e.broadcastOnline()
}

func (e *Engine) send(connID, msgType string, payload interface{}) {
	e.out.Send(connID, protocol.Outbound{Type: msgType, Payload: payload})
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// Counts is a point-in-time view of registry and queue sizes.
type Counts struct {
	Sessions int
	Queued   int
	Waiting  int
	Chatting int
	Idle     int
}

// Counts returns current sizes for monitoring.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts()
}

func (e *Engine) counts() Counts {
	c := Counts{Sessions: e.sessions.Len(), Queued: e.queue.Len()}
	e.sessions.Each(func(s *session.Session) {
		switch s.Status {
		case session.StatusWaiting:
			c.Waiting++
		case session.StatusChatting:
			c.Chatting++
		default:
			c.Idle++
		}
	})
	return c
}

// StartedAt returns when the engine was created.
func (e *Engine) StartedAt() time.Time {
	return e.startedAt
}

// UserInfo describes one live session for the admin listing.
type UserInfo struct {
	PublicID string
	Name     string
	Geo      geo.Tag
	Status   session.Status
	JoinedAt time.Time
}

// Stats is the admin view of the engine.
type Stats struct {
	Counts
	TotalConnections uint64
	TotalMatches     uint64
	StartedAt        time.Time
	Users            []UserInfo // oldest first
}

// Stats returns aggregate counters and a listing of every live session.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		Counts:           e.counts(),
		TotalConnections: e.totalConnections,
		TotalMatches:     e.totalMatches,
		StartedAt:        e.startedAt,
		Users:            make([]UserInfo, 0, e.sessions.Len()),
	}
	e.sessions.Each(func(s *session.Session) {
		st.Users = append(st.Users, UserInfo{
			PublicID: s.PublicID,
			Name:     s.Name,
			Geo:      s.Geo,
			Status:   s.Status,
			JoinedAt: s.JoinedAt,
		})
	})
	sort.Slice(st.Users, func(i, j int) bool {
		return st.Users[i].JoinedAt.Before(st.Users[j].JoinedAt)
	})
	return st
}
