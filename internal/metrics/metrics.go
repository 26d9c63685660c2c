// Package metrics provides Prometheus instrumentation for the pairing
// server: lifetime counters for connections, matches and relayed payloads,
// a command latency histogram, and scrape-time gauges for the session
// registry and waiting queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts sessions created since start-up.
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_connections_total",
		Help: "Total number of sessions created",
	})

	// MatchesTotal counts pairs formed since start-up.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_matches_total",
		Help: "Total number of pairs formed",
	})

	// UnpairsTotal counts broken pairs by the event that broke them.
	UnpairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_unpairs_total",
		Help: "Total number of pairs broken",
	}, []string{"cause"}) // cause = "search", "next", "stop", "disconnect"

	// RelayedTotal counts payloads forwarded to a partner.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_relayed_total",
		Help: "Total number of payloads relayed to a partner",
	}, []string{"kind"}) // kind = "signal", "ice_restart", "chat"

	// DroppedTotal counts inbound commands or outbound messages that were
	// discarded.
	DroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_dropped_total",
		Help: "Total number of discarded messages",
	}, []string{"reason"}) // reason = "no_partner", "empty", "outbox_full", "rate_limited"

	// ReportsTotal counts reports filed by participants.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_reports_total",
		Help: "Total number of reports filed",
	})

	// CommandLatency records how long a client command took to handle.
	CommandLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairchat_command_duration_seconds",
		Help:    "Client command handling latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchesTotal,
		UnpairsTotal,
		RelayedTotal,
		DroppedTotal,
		ReportsTotal,
		CommandLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Snapshot is a point-in-time view of registry and queue sizes.
type Snapshot struct {
	Sessions int
	Queued   int
	Waiting  int
	Chatting int
	Idle     int
}

var (
	sessionsDesc = prometheus.NewDesc("pairchat_sessions",
		"Current number of live sessions by status", []string{"status"}, nil)
	queueDesc = prometheus.NewDesc("pairchat_waiting_queue_length",
		"Current number of entries in the waiting queue", nil, nil)
)

// SessionCollector reads sizes from a snapshot function on every scrape,
// so the gauges can never drift from the registry.
type SessionCollector struct {
	snapshot func() Snapshot
}

// NewSessionCollector returns a collector backed by snapshot.
func NewSessionCollector(snapshot func() Snapshot) *SessionCollector {
	return &SessionCollector{snapshot: snapshot}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionsDesc
	ch <- queueDesc
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(s.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(s.Waiting), "waiting")
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(s.Chatting), "chatting")
	ch <- prometheus.MustNewConstMetric(queueDesc, prometheus.GaugeValue, float64(s.Queued))
}
