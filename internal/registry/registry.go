package registry

import (
	"sort"
	"sync"
	"time"
)

const (
	TypeOnline  = "online"
	TypeOffline = "offline"
)

// Entry records one live transport connection for a user.
type Entry struct {
	UserID      string    `json:"userId"`
	ConnID      string    `json:"connectionId"`
	ConnectedAt time.Time `json:"-"`
}

// Event is emitted whenever the set of online users changes. It fires on a
// user's first connection and on their last disconnect, never on extra
// devices joining or leaving.
type Event struct {
	Type   string `json:"type"` // online|offline
	UserID string `json:"userId"`
}

// Registry is the authoritative directory of live connections keyed by
// user identity. A user may hold several concurrent connections
// (multi-device); a connection belongs to exactly one user. All methods
// are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]Entry
	byUser map[string]map[string]Entry // userID → connID → entry

	listeners []chan Event
}

func New() *Registry {
	return &Registry{
		byConn: make(map[string]Entry),
		byUser: make(map[string]map[string]Entry),
	}
}

// Register binds connID to userID. Registering the same pair twice is a
// no-op. Emits an online event when this is the user's first connection.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	if _, ok := r.byConn[connID]; ok {
		r.mu.Unlock()
		return
	}
	e := Entry{UserID: userID, ConnID: connID, ConnectedAt: time.Now()}
	r.byConn[connID] = e
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Entry)
		r.byUser[userID] = conns
	}
	first := len(conns) == 0
	conns[connID] = e
	if first {
		r.notifyListeners(Event{Type: TypeOnline, UserID: userID})
	}
	r.mu.Unlock()
}

// Unregister removes the entry for connID. Unknown connection IDs are a
// no-op, so duplicate disconnect events are harmless. Returns the user the
// connection belonged to and whether that user is now fully offline.
func (r *Registry) Unregister(connID string) (userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	conns := r.byUser[e.UserID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, e.UserID)
		r.notifyListeners(Event{Type: TypeOffline, UserID: e.UserID})
		return e.UserID, true
	}
	return e.UserID, false
}

// Resolve returns the connection IDs currently registered for userID.
// Empty means offline; that is a normal outcome, not an error.
func (r *Registry) Resolve(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// UserFor returns the identity bound to connID, if any.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[connID]
	return e.UserID, ok
}

// Snapshot returns every live entry, sorted by user then connection ID.
// This is the getUsers broadcast payload.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnID < out[j].ConnID
	})
	return out
}

// Online returns the de-duplicated sorted set of online user IDs.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe returns a channel that receives online/offline events.
func (r *Registry) Subscribe() chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 16)
	r.listeners = append(r.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (r *Registry) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, listener := range r.listeners {
		if listener == ch {
			close(listener)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// notifyListeners is called with r.mu held. Sends never block; a listener
// that falls behind misses intermediate events and catches up on the next
// snapshot broadcast.
func (r *Registry) notifyListeners(evt Event) {
	for _, ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
