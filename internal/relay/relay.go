// Package relay forwards chat messages to a recipient's live connections.
// Delivery is at-most-once and best-effort: nothing is queued, nothing is
// retried, and an offline recipient is a normal outcome. Durable storage
// is the HTTP layer's job, independent of delivery.
package relay

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/proto"
	"github.com/Anmol1085/social-clone/internal/registry"
)

var log = logging.Logger("relay")

// Sender is the only surface the relay needs from the transport layer.
type Sender interface {
	Send(connID, event string, payload any) error
}

// Relay delivers chat envelopes through the registry.
type Relay struct {
	reg *registry.Registry
	out Sender
}

func New(reg *registry.Registry, out Sender) *Relay {
	return &Relay{reg: reg, out: out}
}

// Relay forwards msg to every live connection of the recipient and returns
// how many copies were delivered. Zero with no error means the recipient
// is offline. The ciphertext fields pass through untouched; the relay
// never inspects them. The caller is responsible for validating that
// msg.SenderID is bound to the originating connection.
func (r *Relay) Relay(recipientID string, msg proto.GetMessage) int {
	conns := r.reg.Resolve(recipientID)
	if len(conns) == 0 {
		log.Debugw("recipient offline, dropping", "from", msg.SenderID, "to", recipientID)
		return 0
	}

	delivered := 0
	for _, connID := range conns {
		// A connection can close between resolve and send; that race is
		// treated the same as offline for this copy.
		if err := r.out.Send(connID, proto.EventGetMessage, msg); err != nil {
			log.Debugw("send failed", "conn", connID, "err", err)
			continue
		}
		delivered++
	}
	log.Debugw("relayed", "from", msg.SenderID, "to", recipientID, "copies", delivered)
	return delivered
}
