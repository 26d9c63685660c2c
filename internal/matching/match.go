package matching

import (
	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/session"
)

// SearchRequest sets the display name of connID, leaves any current partner
// and looks for a new one.
func (e *Engine) SearchRequest(connID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(connID)
	if s == nil {
		return
	}
	s.Name = session.ClampName(name)
	e.leave(connID, causeSearch)
	e.requestMatch(connID)
}

// Skip leaves the current partner, if any, and looks for a new one.
func (e *Engine) Skip(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.leave(connID, causeNext)
	e.requestMatch(connID)
}

// SearchAgain looks for a partner unless connID is already chatting.
func (e *Engine) SearchAgain(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(connID)
	if s == nil || s.Status == session.StatusChatting {
		return
	}
	e.requestMatch(connID)
}

// requestMatch pairs connID with the longest-waiting valid candidate, or
// queues it when there is none. The requester is the initiator of the new
// pair. A chatting session is left alone. Callers hold e.mu.
func (e *Engine) requestMatch(connID string) {
	s := e.sessions.Get(connID)
	if s == nil || s.Status == session.StatusChatting {
		return
	}

	e.queue.Remove(connID)

	partnerID, ok := e.queue.PopFirstValid(connID, e.isWaiting)
	if !ok {
		s.Status = session.StatusWaiting
		s.PartnerID = ""
		e.queue.Enqueue(connID)
		return
	}

	p := e.sessions.Get(partnerID)
	s.Status, s.PartnerID = session.StatusChatting, partnerID
	p.Status, p.PartnerID = session.StatusChatting, connID
	e.totalMatches++
	metrics.MatchesTotal.Inc()

	e.send(connID, protocol.TypeMatched, protocol.MatchedMsg{
		PartnerID:   p.PublicID,
		PartnerName: p.Name,
		Initiator:   true,
	})
	e.send(partnerID, protocol.TypeMatched, protocol.MatchedMsg{
		PartnerID:   s.PublicID,
		PartnerName: s.Name,
		Initiator:   false,
	})

	e.log.Info("matched",
		zap.String("initiator", s.Name),
		zap.String("initiator_city", s.Geo.City),
		zap.String("partner", p.Name),
		zap.String("partner_city", p.Geo.City),
	)
	e.broadcastOnline()
}

// isWaiting is the queue validity check: the session still exists, is
// waiting and has no partner.
func (e *Engine) isWaiting(connID string) bool {
	s := e.sessions.Get(connID)
	return s != nil && s.Status == session.StatusWaiting && !s.HasPartner()
}
