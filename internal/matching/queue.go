// Package matching is the pairing engine: it owns the live sessions and the
// waiting queue, pairs participants in arrival order, breaks pairs on skip,
// stop and disconnect, relays payloads between partners and publishes the
// online count.
package matching

// Queue is the FIFO of connection IDs waiting for a partner. An ID appears
// at most once. Queue is not safe for concurrent use.
type Queue struct {
	ids    []string
	queued map[string]struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{queued: make(map[string]struct{})}
}

// Enqueue appends id unless it is already queued. It reports whether id was
// added.
func (q *Queue) Enqueue(id string) bool {
	if _, ok := q.queued[id]; ok {
		return false
	}
	q.ids = append(q.ids, id)
	q.queued[id] = struct{}{}
	return true
}

// Remove deletes every occurrence of id.
func (q *Queue) Remove(id string) {
	if _, ok := q.queued[id]; !ok {
		return
	}
	delete(q.queued, id)
	kept := q.ids[:0]
	for _, v := range q.ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	clear(q.ids[len(kept):])
	q.ids = kept
}

// PopFirstValid scans from the head and returns the first ID that is not
// exclude and for which valid reports true. Every entry scanned, including
// invalid ones and exclude, is removed; entries after the returned one are
// left untouched. ok is false when the scan exhausts the queue.
func (q *Queue) PopFirstValid(exclude string, valid func(id string) bool) (id string, ok bool) {
	for len(q.ids) > 0 {
		head := q.ids[0]
		q.ids[0] = ""
		q.ids = q.ids[1:]
		delete(q.queued, head)

		if head != exclude && valid(head) {
			return head, true
		}
	}
	return "", false
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.queued[id]
	return ok
}

// Len returns the number of queued IDs.
func (q *Queue) Len() int {
	return len(q.ids)
}

// IDs returns a copy of the queue in order, oldest first.
func (q *Queue) IDs() []string {
	return append([]string(nil), q.ids...)
}
