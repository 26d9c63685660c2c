// Package admin serves the operator endpoints: an aggregate stats view
// guarded by a shared key, and an unauthenticated liveness probe.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dudedude/pairchat/internal/geo"
	"github.com/dudedude/pairchat/internal/matching"
	"github.com/dudedude/pairchat/internal/session"
)

// Source is the read side of the pairing engine. Stats is the full listing;
// Counts and StartedAt are cheap enough for a liveness probe.
type Source interface {
	Stats() matching.Stats
	Counts() matching.Counts
	StartedAt() time.Time
}

// Handler serves /api/admin/stats and /api/health.
type Handler struct {
	src Source
	key []byte
	log *zap.Logger
	now func() time.Time
}

// New creates a Handler that accepts key on the stats endpoint.
func New(src Source, key string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		src: src,
		key: []byte(key),
		log: logger.Named("admin"),
		now: time.Now,
	}
}

// StatsResponse is the body of a successful stats request.
type StatsResponse struct {
	TotalConnected       int            `json:"totalConnected"`
	ActiveChatting       int            `json:"activeChatting"`
	ActivePairs          int            `json:"activePairs"`
	Waiting              int            `json:"waiting"`
	Idle                 int            `json:"idle"`
	TotalConnectionsEver uint64         `json:"totalConnectionsEver"`
	TotalMatchesEver     uint64         `json:"totalMatchesEver"`
	ServerStarted        time.Time      `json:"serverStarted"`
	CountryBreakdown     map[string]int `json:"countryBreakdown"`
	CityBreakdown        map[string]int `json:"cityBreakdown"`
	Users                []User         `json:"users"`
}

// User is one live session in the stats listing.
type User struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Country  string         `json:"country"`
	City     string         `json:"city"`
	Region   string         `json:"region"`
	Status   session.Status `json:"status"`
	JoinedAt time.Time      `json:"joinedAt"`
	IP       string         `json:"ip"`
}

// HealthResponse is the body of the liveness probe.
type HealthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"` // seconds
	Users  int     `json:"users"`
}

// ServeStats reports aggregate counters and every live session. The key is
// taken from the "key" query parameter.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	key := []byte(r.URL.Query().Get("key"))
	if subtle.ConstantTimeCompare(key, h.key) != 1 {
		h.log.Info("unauthorized stats request", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, buildStats(h.src.Stats()))
}

// ServeHealth reports process uptime and the live session count.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: h.now().Sub(h.src.StartedAt()).Seconds(),
		Users:  h.src.Counts().Sessions,
	})
}

func buildStats(st matching.Stats) StatsResponse {
	resp := StatsResponse{
		TotalConnected:       st.Sessions,
		ActiveChatting:       st.Chatting,
		ActivePairs:          st.Chatting / 2,
		Waiting:              st.Waiting,
		Idle:                 st.Idle,
		TotalConnectionsEver: st.TotalConnections,
		TotalMatchesEver:     st.TotalMatches,
		ServerStarted:        st.StartedAt,
		CountryBreakdown:     make(map[string]int),
		CityBreakdown:        make(map[string]int),
		Users:                make([]User, 0, len(st.Users)),
	}
	for _, u := range st.Users {
		country := orDefault(u.Geo.Country, geo.UnknownCountry)
		city := orDefault(u.Geo.City, geo.UnknownCity)
		resp.CountryBreakdown[country]++
		resp.CityBreakdown[city]++
		resp.Users = append(resp.Users, User{
			ID:       u.PublicID,
			Name:     u.Name,
			Country:  country,
			City:     city,
			Region:   u.Geo.Region,
			Status:   u.Status,
			JoinedAt: u.JoinedAt,
			IP:       orDefault(u.Geo.IP, "unknown"),
		})
	}
	return resp
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
