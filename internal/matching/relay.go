package matching

import (
	"encoding/json"
	"strings"

	"github.com/dudedude/pairchat/internal/metrics"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/report"
	"github.com/dudedude/pairchat/internal/session"
)

const (
	// MaxChatChars caps relayed chat text, counted in characters.
	MaxChatChars = 500

	// MaxReasonChars caps report reasons.
	MaxReasonChars = 500

	// DefaultReason is recorded when a report carries no reason.
	DefaultReason = "unspecified"
)

// RelayNegotiation forwards data unchanged to the partner of connID. It
// reports whether there was a partner to forward to.
func (e *Engine) RelayNegotiation(connID string, data json.RawMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	partnerID, ok := e.partnerOf(connID)
	if !ok {
		return false
	}
	e.send(partnerID, protocol.TypeSignal, protocol.ServerSignalMsg{Data: data})
	metrics.RelayedTotal.WithLabelValues("signal").Inc()
	return true
}

// RestartNegotiation asks the partner of connID to restart negotiation.
func (e *Engine) RestartNegotiation(connID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	partnerID, ok := e.partnerOf(connID)
	if !ok {
		return false
	}
	e.send(partnerID, protocol.TypeIceRestart, protocol.ServerIceRestartMsg{})
	metrics.RelayedTotal.WithLabelValues("ice_restart").Inc()
	return true
}

// RelayChat forwards text, truncated to MaxChatChars, to the partner of
// connID tagged with the sender's name. Empty text is dropped.
func (e *Engine) RelayChat(connID, text string) bool {
	if text == "" {
		metrics.DroppedTotal.WithLabelValues("empty").Inc()
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	partnerID, ok := e.partnerOf(connID)
	if !ok {
		return false
	}
	s := e.sessions.Get(connID)
	e.send(partnerID, protocol.TypeChatMessage, protocol.ServerChatMsg{
		Text: session.Truncate(text, MaxChatChars),
		From: s.Name,
	})
	metrics.RelayedTotal.WithLabelValues("chat").Inc()
	return true
}

// Report captures a report filed by connID against its current partner, if
// any. It changes no state; recording the entry is up to the caller. ok is
// false when connID is unknown.
func (e *Engine) Report(connID, reason string) (entry report.Entry, ok bool) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessions.Get(connID)
	if s == nil {
		return report.Entry{}, false
	}
	entry = report.Entry{
		ReporterID:   s.PublicID,
		ReporterName: s.Name,
		Reason:       session.Truncate(reason, MaxReasonChars),
		CreatedAt:    e.now(),
	}
	if p := e.sessions.Get(s.PartnerID); p != nil {
		entry.ReportedID = p.PublicID
		entry.ReportedName = p.Name
	}
	metrics.ReportsTotal.Inc()
	return entry, true
}

// partnerOf returns the partner of connID. A miss is counted as a dropped
// payload. Callers hold e.mu.
func (e *Engine) partnerOf(connID string) (string, bool) {
	s := e.sessions.Get(connID)
	if s == nil || !s.HasPartner() {
		metrics.DroppedTotal.WithLabelValues("no_partner").Inc()
		return "", false
	}
	return s.PartnerID, true
}
