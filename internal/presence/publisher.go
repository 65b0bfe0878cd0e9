// Package presence broadcasts the online-user set to every connected
// client whenever it changes. Broadcasts are best-effort and
// fire-and-forget: a client that misses one sees the current truth on the
// next change.
package presence

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/proto"
	"github.com/Anmol1085/social-clone/internal/registry"
)

var log = logging.Logger("presence")

// Broadcaster delivers an event to all connected clients. Implemented by
// the socket server.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Publisher watches the registry and re-broadcasts the full presence
// snapshot on every set change.
type Publisher struct {
	reg  *registry.Registry
	bc   Broadcaster
	ch   chan registry.Event
	done chan struct{}
}

func New(reg *registry.Registry, bc Broadcaster) *Publisher {
	return &Publisher{
		reg:  reg,
		bc:   bc,
		done: make(chan struct{}),
	}
}

// Start subscribes to registry events and publishes until Close.
func (p *Publisher) Start() {
	p.ch = p.reg.Subscribe()
	go p.loop()
}

func (p *Publisher) loop() {
	for {
		select {
		case <-p.done:
			return
		case evt, ok := <-p.ch:
			if !ok {
				return
			}
			// Snapshot is taken after the mutation, so the most recent
			// broadcast always reflects registry state at broadcast time.
			snap := p.reg.Snapshot()
			log.Debugw("presence changed", "type", evt.Type, "user", evt.UserID, "online", len(snap))
			p.bc.Broadcast(proto.EventGetUsers, snap)
		}
	}
}

// Close stops the publisher. Safe to call once.
func (p *Publisher) Close() {
	close(p.done)
	if p.ch != nil {
		p.reg.Unsubscribe(p.ch)
	}
}
