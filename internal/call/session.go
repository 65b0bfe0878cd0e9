package call

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// State of a call session. The zero value is invalid; a session is born
// Offered and ends in exactly one of the terminal states.
type State int

const (
	StateOffered State = iota + 1
	StateAnswered
	StateActive
	StateEnded
	StateRejected
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateOffered:
		return "offered"
	case StateAnswered:
		return "answered"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed-out"
	default:
		return "invalid"
	}
}

// Terminal reports whether the session can never transition again.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateRejected || s == StateTimedOut
}

// Session is one call attempt between an ordered (caller, callee) pair.
// It lives only in broker memory and is never persisted. All fields are
// guarded by the broker mutex.
type Session struct {
	ID        string
	CallerID  string
	CalleeID  string
	CreatedAt time.Time

	state State

	// Candidates that arrived while their target had no live connection,
	// keyed by target user. Flushed on answer; bounded by the broker's
	// candidate buffer cap.
	pending map[string]*candidateRing

	offerTimer *clock.Timer
}

// counterpart returns the other party of the session relative to userID.
func (s *Session) counterpart(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

func (s *Session) buffer(toID string, cand json.RawMessage, capacity int) {
	if s.pending == nil {
		s.pending = make(map[string]*candidateRing)
	}
	ring := s.pending[toID]
	if ring == nil {
		ring = newCandidateRing(capacity)
		s.pending[toID] = ring
	}
	ring.push(cand)
}

// drainPending empties the buffered candidates for one target user.
func (s *Session) drainPending(toID string) []json.RawMessage {
	ring := s.pending[toID]
	if ring == nil {
		return nil
	}
	return ring.drain()
}

func (s *Session) stopOfferTimer() {
	if s.offerTimer != nil {
		s.offerTimer.Stop()
		s.offerTimer = nil
	}
}

// pairKey identifies the session slot for a user pair regardless of call
// direction; ICE candidates flow both ways and are looked up unordered.
func pairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return p[0] + "|" + p[1]
}
