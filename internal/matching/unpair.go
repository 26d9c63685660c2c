package matching

import (
	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/session"
)

// Unpair causes, used as metric labels.
const (
	causeSearch     = "search"
	causeNext       = "next"
	causeStop       = "stop"
	causeDisconnect = "disconnect"
)

// Stop leaves the current partner or the waiting queue and goes idle. The
// abandoned partner is told but not re-queued.
func (e *Engine) Stop(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(connID)
	if s == nil {
		return
	}
	e.leave(connID, causeStop)
	e.queue.Remove(connID)
	s.Status = session.StatusIdle
	s.PartnerID = ""
	e.broadcastOnline()
}

// leave breaks the pair connID belongs to, if any, and tells the partner.
// Neither side is re-queued. Callers hold e.mu.
func (e *Engine) leave(connID, cause string) {
	partnerID, ok := e.unpair(connID)
	if !ok {
		return
	}
	metrics.UnpairsTotal.WithLabelValues(cause).Inc()
	e.send(partnerID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
}

// unpair sets connID and its partner back to idle and returns the partner's
// connection ID. ok is false when connID is unknown or unpaired. Callers
// hold e.mu.
func (e *Engine) unpair(connID string) (partnerID string, ok bool) {
	s := e.sessions.Get(connID)
	if s == nil || !s.HasPartner() {
		return "", false
	}

	partnerID = s.PartnerID
	s.Status, s.PartnerID = session.StatusIdle, ""
	if p := e.sessions.Get(partnerID); p != nil && p.PartnerID == connID {
		p.Status, p.PartnerID = session.StatusIdle, ""
	}
	return partnerID, true
}
