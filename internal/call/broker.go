// Package call brokers the offer/answer/ICE-candidate exchange between two
// users. The broker relays opaque signaling payloads through the registry;
// it never touches media, SDP contents, or NAT traversal. Coupling to the
// transport is via the Sender interface only.
package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/proto"
	"github.com/Anmol1085/social-clone/internal/registry"
)

var log = logging.Logger("call")

var (
	// ErrRecipientOffline means the callee has no live connection. Distinct
	// from signaling errors so the UI can show "user unavailable".
	ErrRecipientOffline = errors.New("recipient offline")

	// ErrBusy means a non-terminal session already exists for the pair.
	ErrBusy = errors.New("call already in progress")

	// ErrNoSuchSession means the event references a pair with no session.
	ErrNoSuchSession = errors.New("no such call session")

	// ErrInvalidSessionState means the session exists but the transition is
	// not legal from its current state (already terminal, already answered).
	ErrInvalidSessionState = errors.New("invalid call session state")
)

const (
	DefaultOfferTimeout    = 45 * time.Second
	DefaultEndedGrace      = 30 * time.Second
	DefaultCandidateBuffer = 32
)

// Sender is the only surface the broker needs from the transport layer.
type Sender interface {
	Send(connID, event string, payload any) error
}

// Options tune broker policy. Zero values fall back to defaults.
type Options struct {
	// OfferTimeout bounds how long a session may stay in Offered before it
	// is abandoned as unanswered.
	OfferTimeout time.Duration

	// EndedGrace is how long a terminal session lingers so late events get
	// an invalid-state answer instead of reviving or "no such session".
	EndedGrace time.Duration

	// CandidateBuffer caps buffered ICE candidates per session per target.
	CandidateBuffer int

	// Clock is swapped for a mock in tests.
	Clock clock.Clock
}

// Broker owns all call sessions and drives their state machines. At most
// one non-terminal session exists per user pair at a time.
type Broker struct {
	reg *registry.Registry
	out Sender
	clk clock.Clock

	offerTimeout time.Duration
	endedGrace   time.Duration
	candCap      int

	mu       sync.Mutex
	sessions map[string]*Session // pairKey → session
}

func New(reg *registry.Registry, out Sender, opts Options) *Broker {
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = DefaultOfferTimeout
	}
	if opts.EndedGrace <= 0 {
		opts.EndedGrace = DefaultEndedGrace
	}
	if opts.CandidateBuffer <= 0 {
		opts.CandidateBuffer = DefaultCandidateBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Broker{
		reg:          reg,
		out:          out,
		clk:          opts.Clock,
		offerTimeout: opts.OfferTimeout,
		endedGrace:   opts.EndedGrace,
		candCap:      opts.CandidateBuffer,
		sessions:     make(map[string]*Session),
	}
}

// Initiate creates a session in Offered and delivers the offer to every
// live connection of the callee (multi-device ring; first answer wins).
// No session is created when the callee is offline.
func (b *Broker) Initiate(callerID, calleeID string, offer json.RawMessage, callerName string, isVideo bool) error {
	conns := b.reg.Resolve(calleeID)
	if len(conns) == 0 {
		return ErrRecipientOffline
	}

	key := pairKey(callerID, calleeID)

	b.mu.Lock()
	if existing, ok := b.sessions[key]; ok && !existing.state.Terminal() {
		b.mu.Unlock()
		return ErrBusy
	}
	sess := &Session{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		CreatedAt: b.clk.Now(),
		state:     StateOffered,
	}
	b.sessions[key] = sess
	id := sess.ID
	sess.offerTimer = b.clk.AfterFunc(b.offerTimeout, func() {
		b.expire(key, id)
	})
	b.mu.Unlock()

	ring := proto.IncomingCall{Signal: offer, From: callerID, Name: callerName, IsVideo: isVideo}
	delivered := 0
	for _, connID := range conns {
		if err := b.out.Send(connID, proto.EventCallUser, ring); err == nil {
			delivered++
		}
	}
	log.Infow("call offered", "session", sess.ID, "caller", callerID, "callee", calleeID, "rang", delivered)
	return nil
}

// Answer transitions Offered → Answered → Active and forwards the answer
// payload to the caller. The first answer for a session wins; any later
// answer (another device) gets ErrInvalidSessionState.
func (b *Broker) Answer(calleeID, callerID string, answer json.RawMessage) error {
	key := pairKey(callerID, calleeID)

	b.mu.Lock()
	sess, ok := b.sessions[key]
	if !ok {
		b.mu.Unlock()
		return ErrNoSuchSession
	}
	if sess.CallerID != callerID || sess.CalleeID != calleeID {
		// An "answer" flowing in the offer direction references no session.
		b.mu.Unlock()
		return ErrNoSuchSession
	}
	if sess.state != StateOffered {
		b.mu.Unlock()
		return ErrInvalidSessionState
	}
	sess.state = StateAnswered
	sess.stopOfferTimer()
	toCaller := sess.drainPending(callerID)
	toCallee := sess.drainPending(calleeID)
	sess.pending = nil
	b.mu.Unlock()

	b.sendToUser(callerID, proto.EventCallAccepted, answer)

	// Flush candidates that arrived while a side was unreachable.
	for _, cand := range toCaller {
		b.sendToUser(callerID, proto.EventIceCandidate, proto.IceCandidate{Candidate: cand})
	}
	for _, cand := range toCallee {
		b.sendToUser(calleeID, proto.EventIceCandidate, proto.IceCandidate{Candidate: cand})
	}

	b.mu.Lock()
	if sess.state == StateAnswered {
		sess.state = StateActive
	}
	b.mu.Unlock()

	log.Infow("call answered", "session", sess.ID, "caller", callerID, "callee", calleeID)
	return nil
}

// RelayCandidate forwards one ICE candidate to the counterpart. Legal
// while the session is Offered, Answered, or Active; trickle ICE keeps
// negotiating after media starts. Candidates for an unreachable target are
// buffered against the session instead of silently dropped.
func (b *Broker) RelayCandidate(fromID, toID string, cand json.RawMessage) error {
	key := pairKey(fromID, toID)

	b.mu.Lock()
	sess, ok := b.sessions[key]
	if !ok {
		b.mu.Unlock()
		return ErrNoSuchSession
	}
	if sess.state.Terminal() {
		b.mu.Unlock()
		return ErrInvalidSessionState
	}
	b.mu.Unlock()

	if n := b.sendToUser(toID, proto.EventIceCandidate, proto.IceCandidate{Candidate: cand}); n > 0 {
		return nil
	}

	b.mu.Lock()
	if cur, ok := b.sessions[key]; ok && cur == sess && !cur.state.Terminal() {
		cur.buffer(toID, cand, b.candCap)
	}
	b.mu.Unlock()
	return nil
}

// End terminates the session between byID and otherID from any
// non-terminal state. A callee ending a still-Offered session is a
// rejection; everything else is a hangup. The counterpart is notified
// best-effort and the session is discarded after the grace period.
func (b *Broker) End(byID, otherID string) error {
	key := pairKey(byID, otherID)

	b.mu.Lock()
	sess, ok := b.sessions[key]
	if !ok {
		b.mu.Unlock()
		return ErrNoSuchSession
	}
	if sess.state.Terminal() {
		b.mu.Unlock()
		return ErrInvalidSessionState
	}
	reason := proto.ReasonHangup
	if sess.state == StateOffered && byID == sess.CalleeID {
		sess.state = StateRejected
		reason = proto.ReasonRejected
	} else {
		sess.state = StateEnded
	}
	sess.stopOfferTimer()
	sess.pending = nil
	b.scheduleRemoval(key, sess.ID)
	b.mu.Unlock()

	b.sendToUser(otherID, proto.EventCallEnded, proto.CallEnded{From: byID, Reason: reason})
	log.Infow("call ended", "session", sess.ID, "by", byID, "reason", reason)
	return nil
}

// DropUser ends every non-terminal session the user is part of. Called by
// the transport when a user's last connection goes away; the counterpart
// sees callEnded with reason disconnected.
func (b *Broker) DropUser(userID string) {
	type ended struct {
		other string
		id    string
	}

	b.mu.Lock()
	var dropped []ended
	for key, sess := range b.sessions {
		if sess.state.Terminal() || (sess.CallerID != userID && sess.CalleeID != userID) {
			continue
		}
		sess.state = StateEnded
		sess.stopOfferTimer()
		sess.pending = nil
		b.scheduleRemoval(key, sess.ID)
		dropped = append(dropped, ended{other: sess.counterpart(userID), id: sess.ID})
	}
	b.mu.Unlock()

	for _, d := range dropped {
		b.sendToUser(d.other, proto.EventCallEnded, proto.CallEnded{From: userID, Reason: proto.ReasonDisconnected})
		log.Infow("call dropped on disconnect", "session", d.id, "user", userID)
	}
}

// SessionState reports the current state of the session between two users.
func (b *Broker) SessionState(a, c string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[pairKey(a, c)]
	if !ok {
		return 0, false
	}
	return sess.state, true
}

// Close stops all timers and drops every session without notifications.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sess := range b.sessions {
		sess.stopOfferTimer()
	}
	b.sessions = make(map[string]*Session)
}

// expire fires when an Offered session was never answered. The session ID
// guards against the slot having been reused by a newer call.
func (b *Broker) expire(key, id string) {
	b.mu.Lock()
	sess, ok := b.sessions[key]
	if !ok || sess.ID != id || sess.state != StateOffered {
		b.mu.Unlock()
		return
	}
	sess.state = StateTimedOut
	sess.pending = nil
	b.scheduleRemoval(key, id)
	caller, callee := sess.CallerID, sess.CalleeID
	b.mu.Unlock()

	// Both sides hear about it: the caller stops waiting, the callee's
	// devices stop ringing.
	b.sendToUser(caller, proto.EventCallEnded, proto.CallEnded{From: callee, Reason: proto.ReasonTimeout})
	b.sendToUser(callee, proto.EventCallEnded, proto.CallEnded{From: caller, Reason: proto.ReasonTimeout})
	log.Infow("call timed out", "session", id, "caller", caller, "callee", callee)
}

// scheduleRemoval is called with b.mu held.
func (b *Broker) scheduleRemoval(key, id string) {
	b.clk.AfterFunc(b.endedGrace, func() {
		b.mu.Lock()
		if sess, ok := b.sessions[key]; ok && sess.ID == id && sess.state.Terminal() {
			delete(b.sessions, key)
		}
		b.mu.Unlock()
	})
}

// sendToUser delivers payload to every live connection of userID and
// returns how many sends succeeded. Failures are offline-equivalent.
func (b *Broker) sendToUser(userID, event string, payload any) int {
	sent := 0
	for _, connID := range b.reg.Resolve(userID) {
		if err := b.out.Send(connID, event, payload); err != nil {
			log.Debugw("send failed", "conn", connID, "event", event, "err", err)
			continue
		}
		sent++
	}
	return sent
}
