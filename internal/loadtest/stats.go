package loadtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from many clients. All methods are
// goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	msgLatencies     []time.Duration
	errors           int
	connections      int
	matches          int
	rateLimited      int
	startTime        time.Time
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful connection with its handshake latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddMsgLatency records one relayed chat message's sender-to-receiver latency.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddMatch counts a matched notification.
func (c *Collector) AddMatch() {
	c.mu.Lock()
	c.matches++
	c.mu.Unlock()
}

// AddRateLimited counts a rate_limited reply.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summary is a snapshot of everything collected.
type Summary struct {
	Duration    time.Duration
	Connections int
	Matches     int
	RateLimited int
	Errors      int
	Connect     Percentiles
	Message     Percentiles
}

// Summary returns the collected metrics.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Duration:    time.Since(c.startTime),
		Connections: c.connections,
		Matches:     c.matches,
		RateLimited: c.rateLimited,
		Errors:      c.errors,
		Connect:     percentiles(c.connectLatencies),
		Message:     percentiles(c.msgLatencies),
	}
}

// Report writes a formatted summary to w.
func (c *Collector) Report(w io.Writer) {
	s := c.Summary()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(w, "Connections:  %d\n", s.Connections)
	fmt.Fprintf(w, "Matches:      %d\n", s.Matches)
	fmt.Fprintf(w, "Rate limited: %d\n", s.RateLimited)
	fmt.Fprintf(w, "Errors:       %d\n", s.Errors)

	if s.Connect.N > 0 {
		fmt.Fprintln(w, "\n--- Connect Latency ---")
		printPercentiles(w, s.Connect)
	}
	if s.Message.N > 0 {
		fmt.Fprintln(w, "\n--- Message Latency ---")
		printPercentiles(w, s.Message)
	}
	fmt.Fprintln(w)
}

// percentiles sorts a copy of durations and computes avg, p50, p95, p99 and
// max.
func percentiles(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	d := append([]time.Duration(nil), durations...)
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })

	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return Percentiles{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: d[n/2],
		P95: d[int(math.Ceil(float64(n)*0.95))-1],
		P99: d[int(math.Ceil(float64(n)*0.99))-1],
		Max: d[n-1],
	}
}

func printPercentiles(w io.Writer, p Percentiles) {
	fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		p.Avg.Round(time.Microsecond),
		p.P50.Round(time.Microsecond),
		p.P95.Round(time.Microsecond),
		p.P99.Round(time.Microsecond),
		p.Max.Round(time.Microsecond),
		p.N,
	)
}
