package call

import "encoding/json"

// candidateRing is a fixed-capacity buffer of ICE candidates. When full,
// push overwrites the oldest; trickle ICE keeps producing candidates so
// losing the oldest is harmless. Not safe for concurrent use on its own,
// the broker mutex guards it.
type candidateRing struct {
	buf   []json.RawMessage
	head  int
	count int
}

func newCandidateRing(capacity int) *candidateRing {
	return &candidateRing{buf: make([]json.RawMessage, capacity)}
}

func (r *candidateRing) push(c json.RawMessage) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = c
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// drain returns the buffered candidates oldest first and empties the ring.
func (r *candidateRing) drain() []json.RawMessage {
	out := make([]json.RawMessage, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	r.head, r.count = 0, 0
	return out
}
