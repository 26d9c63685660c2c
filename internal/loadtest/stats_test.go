package loadtest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentiles(t *testing.T) {
	var d []time.Duration
	for i := 100; i >= 1; i-- {
		d = append(d, time.Duration(i)*time.Millisecond)
	}

	p := percentiles(d)

	assert.Equal(t, 100, p.N)
	assert.Equal(t, 51*time.Millisecond, p.P50)
	assert.Equal(t, 95*time.Millisecond, p.P95)
	assert.Equal(t, 99*time.Millisecond, p.P99)
	assert.Equal(t, 100*time.Millisecond, p.Max)
	assert.Equal(t, 50500*time.Microsecond, p.Avg)
	assert.Equal(t, 100*time.Millisecond, d[0], "input is not reordered")
}

func TestPercentiles_Empty(t *testing.T) {
	assert.Equal(t, Percentiles{}, percentiles(nil))
}

func TestCollector_Report(t *testing.T) {
	c := NewCollector()
	c.AddConnect(2 * time.Millisecond)
	c.AddConnect(4 * time.Millisecond)
	c.AddMatch()
	c.AddMsgLatency(time.Millisecond)
	c.AddRateLimited()
	c.AddError()

	s := c.Summary()
	assert.Equal(t, 2, s.Connections)
	assert.Equal(t, 1, s.Matches)
	assert.Equal(t, 1, s.RateLimited)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Message.N)

	var buf bytes.Buffer
	c.Report(&buf)
	assert.Contains(t, buf.String(), "Connections:  2")
	assert.Contains(t, buf.String(), "--- Message Latency ---")
}
