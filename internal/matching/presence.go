package matching

import (
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/session"
)

// broadcastOnline sends the live session count to every live session.
// Callers hold e.mu.
func (e *Engine) broadcastOnline() {
	msg := protocol.OnlineCountMsg{Count: e.sessions.Len()}
	e.sessions.Each(func(s *session.Session) {
		e.send(s.ConnID, protocol.TypeOnlineCount, msg)
	})
}
