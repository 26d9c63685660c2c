package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// MaxMind resolves addresses against a local MaxMind City database.
type MaxMind struct {
	db  *geoip2.Reader
	log *zap.Logger
}

// OpenMaxMind opens the database at path. The file is memory-mapped, so
// lookups are local and cheap.
func OpenMaxMind(path string, logger *zap.Logger) (*MaxMind, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	return &MaxMind{db: db, log: logger}, nil
}

// Lookup resolves addr. Private, malformed and unknown addresses degrade to
// Unknown values carrying the original address.
func (m *MaxMind) Lookup(addr string) Tag {
	addr = Normalize(addr)
	if addr == "" {
		return Unknown("")
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return Unknown(addr)
	}

	rec, err := m.db.City(ip)
	if err != nil {
		m.log.Debug("geo lookup failed", zap.String("ip", addr), zap.Error(err))
		return Unknown(addr)
	}

	tag := Unknown(addr)
	if rec.Country.IsoCode != "" {
		tag.Country = rec.Country.IsoCode
	}
	if len(rec.Subdivisions) > 0 {
		tag.Region = rec.Subdivisions[0].IsoCode
	}
	if name := rec.City.Names["en"]; name != "" {
		tag.City = name
	}
	tag.LL = [2]float64{rec.Location.Latitude, rec.Location.Longitude}
	return tag
}

// Close unmaps the database.
func (m *MaxMind) Close() error {
	return m.db.Close()
}
