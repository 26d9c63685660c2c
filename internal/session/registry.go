package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/dudedude/pairchat/internal/geo"
)

// publicIDLen is the number of UUID characters kept for PublicID.
const publicIDLen = 8

// Registry is the set of live sessions keyed by connection ID. It is not
// safe for concurrent use; the owner serializes access.
type Registry struct {
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new idle session for connID with a fresh PublicID and
// the default name. An existing session under the same connID is replaced.
func (r *Registry) Create(connID string, tag geo.Tag) *Session {
	s := &Session{
		ConnID:   connID,
		PublicID: uuid.NewString()[:publicIDLen],
		Name:     DefaultName,
		Geo:      tag,
		Status:   StatusIdle,
		JoinedAt: r.now(),
	}
	r.sessions[connID] = s
	return s
}

// Get returns the session for connID, or nil if none is live.
func (r *Registry) Get(connID string) *Session {
	return r.sessions[connID]
}

// Remove deletes the session for connID. It reports whether one existed.
func (r *Registry) Remove(connID string) bool {
	if _, ok := r.sessions[connID]; !ok {
		return false
	}
	delete(r.sessions, connID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Each calls fn for every live session in unspecified order. fn must not
// add or remove sessions.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
