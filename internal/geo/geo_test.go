package geo

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded list takes first", "203.0.113.7, 10.0.0.1", "", "10.0.0.2:5000", "203.0.113.7"},
		{"real ip header", "", "198.51.100.4", "10.0.0.2:5000", "198.51.100.4"},
		{"peer address", "", "", "192.0.2.9:41234", "192.0.2.9"},
		{"mapped ipv4", "::ffff:192.0.2.10", "", "", "192.0.2.10"},
		{"ipv4 loopback", "", "", "127.0.0.1:5000", ""},
		{"ipv6 loopback", "", "", "[::1]:5000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientAddress(r))
		})
	}
}

func TestUnknown(t *testing.T) {
	tag := Unknown("")
	assert.Equal(t, LocalIP, tag.IP)
	assert.Equal(t, UnknownCountry, tag.Country)
	assert.Equal(t, UnknownCity, tag.City)
	assert.Empty(t, tag.Region)

	assert.Equal(t, "192.0.2.1", Unknown("192.0.2.1").IP)
}

func TestUnknownProvider(t *testing.T) {
	var p Provider = UnknownProvider{}
	assert.Equal(t, Unknown("203.0.113.7"), p.Lookup(" ::ffff:203.0.113.7 "))
	assert.Equal(t, Unknown(""), p.Lookup("127.0.0.1"))
}

func TestOpenMaxMind_MissingFile(t *testing.T) {
	_, err := OpenMaxMind("/nonexistent/GeoLite2-City.mmdb", zap.NewNop())
	assert.Error(t, err)
}
