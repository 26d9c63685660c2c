package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudedude/pairchat/internal/geo"
)

func TestClampName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultName},
		{"   ", DefaultName},
		{"  Sam ", "Sam"},
		{strings.Repeat("a", 35), strings.Repeat("a", 20)},
		{strings.Repeat("é", 25), strings.Repeat("é", 20)},
		{strings.Repeat("b", 20), strings.Repeat("b", 20)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampName(tt.in), "ClampName(%q)", tt.in)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 4))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Len(t, []rune(Truncate(strings.Repeat("x", 600), 500)), 500)
}

func TestRegistry_CreateDefaults(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	tag := geo.Tag{IP: "192.0.2.1", Country: "NL", City: "Amsterdam"}
	s := r.Create("conn-1", tag)

	assert.Equal(t, "conn-1", s.ConnID)
	assert.Len(t, s.PublicID, publicIDLen)
	assert.NotEqual(t, s.ConnID, s.PublicID)
	assert.Equal(t, DefaultName, s.Name)
	assert.Equal(t, StatusIdle, s.Status)
	assert.False(t, s.HasPartner())
	assert.Equal(t, tag, s.Geo)
	assert.Equal(t, fixed, s.JoinedAt)
	assert.Same(t, s, r.Get("conn-1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_PublicIDsDiffer(t *testing.T) {
	r := NewRegistry()
	a := r.Create("a", geo.Unknown(""))
	b := r.Create("b", geo.Unknown(""))
	assert.NotEqual(t, a.PublicID, b.PublicID)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.Create("a", geo.Unknown(""))

	require.True(t, r.Remove("a"))
	assert.Nil(t, r.Get("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Each(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		r.Create(id, geo.Unknown(""))
	}
	seen := map[string]bool{}
	r.Each(func(s *Session) { seen[s.ConnID] = true })
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
