// Package protocol defines the WebSocket message types exchanged between the
// browser client and the server. Every message is a JSON object carrying a
// "type" discriminator next to its payload fields.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by ParseClientMessage for a well-formed message
// whose type is not a client message type.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeStartSearch = "start_search" // supply a name and look for a partner
	TypeSignal      = "signal"       // opaque peer-connection negotiation data
	TypeIceRestart  = "ice_restart"  // ask the partner to restart negotiation
	TypeChatMessage = "chat_message"
	TypeNext        = "next" // skip the current partner
	TypeStop        = "stop"
	TypeSearchAgain = "search_again"
	TypeReport      = "report"
	TypePing        = "ping"
)

// Server -> Client message types. TypeSignal, TypeIceRestart and
// TypeChatMessage are reused for the relayed direction.
const (
	TypeSessionCreated      = "session_created"
	TypeOnlineCount         = "online_count"
	TypeMatched             = "matched"
	TypePartnerDisconnected = "partner_disconnected"
	TypeRateLimited         = "rate_limited"
	TypeError               = "error"
	TypePong                = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps a copy of the full message and extracts only the type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = append(json.RawMessage(nil), data...)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// StartSearchMsg sets the display name and enters matchmaking, leaving any
// current partner.
type StartSearchMsg struct {
	Name string `json:"name"`
}

// SignalMsg carries negotiation data for the partner. Data is relayed
// verbatim and never inspected.
type SignalMsg struct {
	Data json.RawMessage `json:"data"`
}

// IceRestartMsg asks the partner to restart connection negotiation.
type IceRestartMsg struct{}

// ChatMessageMsg is a text message for the partner.
type ChatMessageMsg struct {
	Text string `json:"text"`
}

// NextMsg skips the current partner and looks for a new one.
type NextMsg struct{}

// StopMsg leaves the current chat or the waiting queue.
type StopMsg struct{}

// SearchAgainMsg re-enters matchmaking with the current name. It is ignored
// while chatting.
type SearchAgainMsg struct{}

// ReportMsg reports the current partner with a free-text reason.
type ReportMsg struct {
	Reason string `json:"reason"`
}

// PingMsg is a client-initiated keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg announces the participant's public ID after connecting.
type SessionCreatedMsg struct {
	SessionID string `json:"session_id"`
}

// OnlineCountMsg carries the number of live sessions.
type OnlineCountMsg struct {
	Count int `json:"count"`
}

// MatchedMsg tells both sides of a new pair about each other. Exactly one
// side has Initiator set and is expected to make the negotiation offer.
type MatchedMsg struct {
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name"`
	Initiator   bool   `json:"initiator"`
}

// ServerSignalMsg relays negotiation data from the partner.
type ServerSignalMsg struct {
	Data json.RawMessage `json:"data"`
}

// ServerIceRestartMsg relays a negotiation restart request from the partner.
type ServerIceRestartMsg struct{}

// ServerChatMsg relays a chat message from the partner.
type ServerChatMsg struct {
	Text string `json:"text"`
	From string `json:"from"`
}

// PartnerDisconnectedMsg is sent to the side left behind by a skip, stop,
// new search or disconnect.
type PartnerDisconnectedMsg struct{}

// RateLimitedMsg reports a dropped command and when to retry, in seconds.
type RateLimitedMsg struct {
	RetryAfter int `json:"retry_after"`
}

// ErrorMsg communicates a malformed or unsupported client message.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct{}

// Outbound is a server message before encoding.
type Outbound struct {
	Type    string
	Payload interface{}
}

// Encode returns the wire form of o.
func (o Outbound) Encode() ([]byte, error) {
	return NewServerMessage(o.Type, o.Payload)
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type, the decoded struct (by value) and an error for
// malformed JSON or unknown types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStartSearch:
		var m StartSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSignal:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeIceRestart:
		msg = IceRestartMsg{}
	case TypeNext:
		msg = NextMsg{}
	case TypeStop:
		msg = StopMsg{}
	case TypeSearchAgain:
		msg = SearchAgainMsg{}
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload as a JSON object and prepends a "type"
// key set to msgType. The payload is not decoded again, so embedded raw JSON
// reaches the client byte for byte. A nil payload yields just the type.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}

	raw := []byte("{}")
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
		}
	}
	if len(raw) < 2 || raw[0] != '{' {
		return nil, fmt.Errorf("protocol: payload for %q is not an object", msgType)
	}

	out := make([]byte, 0, len(raw)+len(typ)+9)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(raw) > 2 {
		out = append(out, ',')
	}
	out = append(out, raw[1:]...)
	return out, nil
}
