// Package session holds the per-connection participant record and the
// registry of live sessions keyed by connection ID.
package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dudedude/pairchat/internal/geo"
)

// Status is the pairing state of a session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWaiting  Status = "waiting"
	StatusChatting Status = "chatting"
)

const (
	// DefaultName is shown for participants who never supplied a name.
	DefaultName = "Anonymous"

	// MaxNameChars caps display names, counted in characters.
	MaxNameChars = 20
)

// Session is the server-side record of one live participant.
type Session struct {
	ConnID    string    // transport-assigned key, never shown to other participants
	PublicID  string    // short displayable identifier
	Name      string    // display name, at most MaxNameChars characters
	Geo       geo.Tag   // fixed at connect time
	Status    Status    // idle | waiting | chatting
	PartnerID string    // ConnID of the partner; empty unless chatting
	JoinedAt  time.Time // connect time
}

// HasPartner reports whether the session is currently paired.
func (s *Session) HasPartner() bool {
	return s.PartnerID != ""
}

// ClampName trims surrounding whitespace, substitutes DefaultName for an
// empty name and truncates to MaxNameChars characters.
func ClampName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return Truncate(name, MaxNameChars)
}

// Truncate returns the first max characters of s. Invalid UTF-8 bytes count
// as one character each.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
