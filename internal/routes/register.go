// Package routes exposes the persistence side of messaging over HTTP:
// conversations, durable message writes, history, the public-key
// directory, and a presence snapshot. The realtime relay is independent of
// these endpoints: a message is "sent" once persisted here, whether or
// not the websocket delivery found the recipient online.
package routes

import (
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/registry"
	"github.com/Anmol1085/social-clone/internal/storage"
)

var log = logging.Logger("routes")

// Deps carries everything the handlers need.
type Deps struct {
	Store *storage.DB
	Reg   *registry.Registry
}

// Register wires all API routes onto mux.
func Register(mux *http.ServeMux, d Deps) {
	registerMessageRoutes(mux, d)
	registerUserRoutes(mux, d)
}
