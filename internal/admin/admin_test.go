package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dudedude/pairchat/internal/geo"
	"github.com/dudedude/pairchat/internal/matching"
	"github.com/dudedude/pairchat/internal/session"
)

type staticSource struct {
	st         matching.Stats
	statsCalls int
}

func (s *staticSource) Stats() matching.Stats {
	s.statsCalls++
	return s.st
}

func (s *staticSource) Counts() matching.Counts { return s.st.Counts }
func (s *staticSource) StartedAt() time.Time    { return s.st.StartedAt }

var started = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func fixture() *staticSource {
	return &staticSource{st: matching.Stats{
		Counts:           matching.Counts{Sessions: 3, Chatting: 2, Waiting: 1, Queued: 1},
		TotalConnections: 7,
		TotalMatches:     4,
		StartedAt:        started,
		Users: []matching.UserInfo{
			{PublicID: "aaaa1111", Name: "Alice", Geo: geo.Tag{IP: "198.51.100.1", Country: "DE", Region: "BE", City: "Berlin"}, Status: session.StatusChatting, JoinedAt: started},
			{PublicID: "bbbb2222", Name: "Bob", Geo: geo.Tag{IP: "198.51.100.2", Country: "DE", Region: "HH", City: "Hamburg"}, Status: session.StatusChatting, JoinedAt: started},
			{PublicID: "cccc3333", Name: "Anonymous", Geo: geo.Tag{}, Status: session.StatusWaiting, JoinedAt: started},
		},
	}}
}

func TestServeStats_Unauthorized(t *testing.T) {
	h := New(fixture(), "secret", zaptest.NewLogger(t))

	for _, url := range []string{"/api/admin/stats", "/api/admin/stats?key=wrong", "/api/admin/stats?key=secre"} {
		rec := httptest.NewRecorder()
		h.ServeStats(rec, httptest.NewRequest(http.MethodGet, url, nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code, url)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	}
}

func TestServeStats(t *testing.T) {
	h := New(fixture(), "secret", zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeStats(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats?key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 3, resp.TotalConnected)
	assert.Equal(t, 2, resp.ActiveChatting)
	assert.Equal(t, 1, resp.ActivePairs)
	assert.Equal(t, 1, resp.Waiting)
	assert.Equal(t, 0, resp.Idle)
	assert.Equal(t, uint64(7), resp.TotalConnectionsEver)
	assert.Equal(t, uint64(4), resp.TotalMatchesEver)
	assert.True(t, started.Equal(resp.ServerStarted))
	assert.Equal(t, map[string]int{"DE": 2, "Unknown": 1}, resp.CountryBreakdown)
	assert.Equal(t, map[string]int{"Berlin": 1, "Hamburg": 1, "Unknown": 1}, resp.CityBreakdown)

	require.Len(t, resp.Users, 3)
	assert.Equal(t, User{
		ID: "aaaa1111", Name: "Alice", Country: "DE", City: "Berlin", Region: "BE",
		Status: session.StatusChatting, JoinedAt: resp.Users[0].JoinedAt, IP: "198.51.100.1",
	}, resp.Users[0])
	assert.Equal(t, "Unknown", resp.Users[2].Country)
	assert.Equal(t, "unknown", resp.Users[2].IP)
	assert.Equal(t, session.StatusWaiting, resp.Users[2].Status)
}

func TestServeStats_WireNames(t *testing.T) {
	h := New(fixture(), "secret", nil)

	rec := httptest.NewRecorder()
	h.ServeStats(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats?key=secret", nil))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, k := range []string{
		"totalConnected", "activeChatting", "activePairs", "waiting", "idle",
		"totalConnectionsEver", "totalMatchesEver", "serverStarted",
		"countryBreakdown", "cityBreakdown", "users",
	} {
		assert.Contains(t, raw, k)
	}
}

func TestServeHealth(t *testing.T) {
	src := fixture()
	h := New(src, "secret", zaptest.NewLogger(t))
	h.now = func() time.Time { return started.Add(90 * time.Second) }

	rec := httptest.NewRecorder()
	h.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90,"users":3}`, rec.Body.String())
	assert.Zero(t, src.statsCalls, "health must not build the user listing")
}
