package ws

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dudedude/pairchat/internal/matching"
	"github.com/dudedude/pairchat/internal/protocol"
	"github.com/dudedude/pairchat/internal/ratelimit"
	"github.com/dudedude/pairchat/internal/report"
)

type denyRule struct {
	key   string
	retry time.Duration
}

func (d denyRule) Allow(_ context.Context, _ string, rule ratelimit.Rule) (ratelimit.Decision, error) {
	if rule.Key == d.key {
		return ratelimit.Decision{Allowed: false, RetryAfter: d.retry}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []report.Entry
}

func (s *recordingSink) Record(_ context.Context, e report.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

type harness struct {
	t      *testing.T
	server *Server
	disp   *Dispatcher
}

func newHarness(t *testing.T, limiter ratelimit.Checker, sink report.Sink) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := NewServer(DefaultServerConfig(), nil, logger)
	engine := matching.NewEngine(s, nil, logger)
	d := NewDispatcher(engine, sink, limiter, logger)
	s.SetHandler(d)
	return &harness{t: t, server: s, disp: d}
}

// open registers a pipe-backed connection without a writer goroutine, so
// queued frames can be read straight from its outbox.
func (h *harness) open(id string) *Connection {
	h.t.Helper()
	a, b := net.Pipe()
	h.t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	c := newConnection(id, a, "", 64, time.Second)
	h.server.conns.Add(c)
	require.True(h.t, h.server.open(c))
	return c
}

func (h *harness) send(c *Connection, msg string) {
	h.disp.Message(c, []byte(msg))
}

// expect skips queued messages until one of msgType arrives.
func (h *harness) expect(c *Connection, msgType string) map[string]interface{} {
	h.t.Helper()
	for {
		select {
		case data := <-c.send:
			var m map[string]interface{}
			require.NoError(h.t, json.Unmarshal(data, &m))
			if m["type"] == msgType {
				return m
			}
		case <-time.After(time.Second):
			h.t.Fatalf("%s: no %q message", c.ID, msgType)
			return nil
		}
	}
}

func (h *harness) drain(c *Connection) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (h *harness) pair(a, b *Connection) {
	h.send(a, `{"type":"start_search","name":"Alice"}`)
	h.send(b, `{"type":"start_search","name":"Bob"}`)
	h.expect(a, protocol.TypeMatched)
	h.expect(b, protocol.TypeMatched)
	h.drain(a)
	h.drain(b)
}

func TestDispatcher_OpenAnnouncesSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := h.open("a")

	m := h.expect(c, protocol.TypeSessionCreated)
	assert.Len(t, m["session_id"], 8)
	m = h.expect(c, protocol.TypeOnlineCount)
	assert.Equal(t, float64(1), m["count"])
}

func TestDispatcher_PingPong(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := h.open("a")
	h.drain(c)

	h.send(c, `{"type":"ping"}`)
	assert.Equal(t, map[string]interface{}{"type": "pong"}, h.expect(c, protocol.TypePong))
}

func TestDispatcher_Errors(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := h.open("a")
	h.drain(c)

	h.send(c, `{not json`)
	assert.Equal(t, "parse_error", h.expect(c, protocol.TypeError)["code"])

	h.send(c, `{"type":"find_match"}`)
	assert.Equal(t, "unsupported_type", h.expect(c, protocol.TypeError)["code"])
}

func TestDispatcher_MatchAndRelay(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.open("a")
	b := h.open("b")

	h.send(a, `{"type":"start_search","name":"Alice"}`)
	h.send(b, `{"type":"start_search","name":"Bob"}`)

	mb := h.expect(b, protocol.TypeMatched)
	assert.Equal(t, "Alice", mb["partner_name"])
	assert.Equal(t, true, mb["initiator"])
	ma := h.expect(a, protocol.TypeMatched)
	assert.Equal(t, "Bob", ma["partner_name"])
	assert.Equal(t, false, ma["initiator"])

	h.send(a, `{"type":"chat_message","text":"hello"}`)
	chat := h.expect(b, protocol.TypeChatMessage)
	assert.Equal(t, "hello", chat["text"])
	assert.Equal(t, "Alice", chat["from"])

	h.send(b, `{"type":"signal","data":{"sdp":"v=0","candidate":null}}`)
	sig := h.expect(a, protocol.TypeSignal)
	assert.Equal(t, map[string]interface{}{"sdp": "v=0", "candidate": nil}, sig["data"])

	h.send(a, `{"type":"ice_restart"}`)
	h.expect(b, protocol.TypeIceRestart)

	h.send(a, `{"type":"next"}`)
	h.expect(b, protocol.TypePartnerDisconnected)
}

func TestDispatcher_StopAndSearchAgain(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.open("a")
	b := h.open("b")
	h.pair(a, b)

	h.send(b, `{"type":"stop"}`)
	h.expect(a, protocol.TypePartnerDisconnected)

	c := h.open("c")
	h.send(c, `{"type":"search_again"}`)
	h.send(a, `{"type":"search_again"}`)
	m := h.expect(a, protocol.TypeMatched)
	assert.Equal(t, "Anonymous", m["partner_name"])
	assert.Equal(t, true, m["initiator"])
}

func TestDispatcher_CloseNotifiesPartner(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := h.open("a")
	b := h.open("b")
	h.pair(a, b)

	h.server.RemoveConnection(b)

	h.expect(a, protocol.TypePartnerDisconnected)
	assert.Equal(t, float64(1), h.expect(a, protocol.TypeOnlineCount)["count"])
	assert.Nil(t, h.server.Connections().Get("b"))
}

func TestDispatcher_RateLimited(t *testing.T) {
	h := newHarness(t, denyRule{key: ratelimit.RuleChat.Key, retry: 2500 * time.Millisecond}, nil)
	a := h.open("a")
	b := h.open("b")
	h.pair(a, b)

	h.send(a, `{"type":"chat_message","text":"spam"}`)

	m := h.expect(a, protocol.TypeRateLimited)
	assert.Equal(t, float64(3), m["retry_after"])
	select {
	case data := <-b.send:
		t.Fatalf("unexpected relay: %s", data)
	default:
	}
}

func TestDispatcher_SearchCommandsShareLimit(t *testing.T) {
	h := newHarness(t, denyRule{key: ratelimit.RuleSearch.Key, retry: time.Second}, nil)

	for _, msg := range []string{
		`{"type":"start_search","name":"Alice"}`,
		`{"type":"next"}`,
		`{"type":"search_again"}`,
	} {
		c := h.open("c")
		h.drain(c)
		h.send(c, msg)
		m := h.expect(c, protocol.TypeRateLimited)
		assert.Equal(t, float64(1), m["retry_after"], msg)
		h.server.RemoveConnection(c)
	}
}

func TestDispatcher_Report(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, nil, sink)
	a := h.open("a")
	b := h.open("b")
	h.pair(a, b)

	h.send(a, `{"type":"report","reason":"rude"}`)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, "Alice", e.ReporterName)
	assert.Equal(t, "Bob", e.ReportedName)
	assert.Equal(t, "rude", e.Reason)
}

func TestConnection_EnqueueFullOrClosed(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := newConnection("x", a, "", 1, time.Second)

	assert.True(t, c.Enqueue([]byte("1")))
	assert.False(t, c.Enqueue([]byte("2")), "queue full")

	<-c.send
	require.NoError(t, c.Close())
	assert.False(t, c.Enqueue([]byte("3")), "closed")
	assert.NoError(t, c.Close())

	_, err := b.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
