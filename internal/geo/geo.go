// Package geo tags a connecting address with coarse location metadata. The
// lookup never fails: anything it cannot resolve degrades to Unknown values.
package geo

import (
	"net"
	"net/http"
	"strings"
)

const (
	UnknownCountry = "Unknown"
	UnknownCity    = "Unknown"
	LocalIP        = "localhost"
)

// Tag is the location metadata attached to a session at connect time.
type Tag struct {
	IP      string     `json:"ip"`
	Country string     `json:"country"`
	Region  string     `json:"region"`
	City    string     `json:"city"`
	LL      [2]float64 `json:"ll"`
}

// Unknown returns the fallback tag for ip. An empty ip means the peer is
// local or its address was unavailable.
func Unknown(ip string) Tag {
	if ip == "" {
		ip = LocalIP
	}
	return Tag{IP: ip, Country: UnknownCountry, City: UnknownCity}
}

// Provider resolves an address into a Tag. Implementations must be safe for
// concurrent use and must not block for long; lookups run on the connect path.
type Provider interface {
	Lookup(addr string) Tag
}

// UnknownProvider tags every address with Unknown values.
type UnknownProvider struct{}

func (UnknownProvider) Lookup(addr string) Tag {
	return Unknown(Normalize(addr))
}

// ClientAddress extracts the originating client address from an upgrade
// request, preferring proxy headers over the socket peer address. The result
// is already normalized.
func ClientAddress(r *http.Request) string {
	addr := r.Header.Get("X-Forwarded-For")
	if addr == "" {
		addr = r.Header.Get("X-Real-IP")
	}
	if addr == "" {
		addr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
	}
	return Normalize(addr)
}

// Normalize keeps the first entry of a comma-separated forwarding list,
// strips the IPv4-mapped IPv6 prefix, and maps loopback to "".
func Normalize(addr string) string {
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "::ffff:")
	if addr == "::1" || addr == "127.0.0.1" {
		return ""
	}
	return addr
}
