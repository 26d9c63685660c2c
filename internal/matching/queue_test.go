package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.Enqueue("a"))
	assert.True(t, q.Enqueue("b"))
	assert.False(t, q.Enqueue("a"))
	assert.Equal(t, []string{"a", "b"}, q.IDs())
	assert.True(t, q.Contains("a"))
}

func TestQueue_Remove(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	q.Remove("b")
	q.Remove("missing")

	assert.Equal(t, []string{"a", "c"}, q.IDs())
	assert.False(t, q.Contains("b"))
	assert.Equal(t, 2, q.Len())

	assert.True(t, q.Enqueue("b"), "removed id can be queued again")
}

func TestQueue_PopFirstValid(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		exclude string
		invalid []string
		wantID  string
		wantOK  bool
		rest    []string
	}{
		{
			name:   "head is valid",
			ids:    []string{"a", "b"},
			wantID: "a", wantOK: true,
			rest: []string{"b"},
		},
		{
			name:    "stale entries are dropped",
			ids:     []string{"a", "b", "c"},
			invalid: []string{"a", "b"},
			wantID:  "c", wantOK: true,
			rest: []string{},
		},
		{
			name:    "exclude is skipped and dropped",
			ids:     []string{"self", "b", "c"},
			exclude: "self",
			wantID:  "b", wantOK: true,
			rest: []string{"c"},
		},
		{
			name:    "exhausted",
			ids:     []string{"a", "self"},
			exclude: "self",
			invalid: []string{"a"},
			wantOK:  false,
			rest:    []string{},
		},
		{
			name:   "empty",
			wantOK: false,
			rest:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue()
			for _, id := range tt.ids {
				q.Enqueue(id)
			}
			bad := make(map[string]bool)
			for _, id := range tt.invalid {
				bad[id] = true
			}

			id, ok := q.PopFirstValid(tt.exclude, func(id string) bool { return !bad[id] })

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.ElementsMatch(t, tt.rest, q.IDs())
			for _, gone := range tt.ids {
				if !contains(tt.rest, gone) {
					assert.False(t, q.Contains(gone), "%s still marked queued", gone)
				}
			}
		})
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
