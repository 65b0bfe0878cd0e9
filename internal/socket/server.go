// Package socket is the websocket transport: it owns the live connections,
// frames events on the wire, enforces the identity binding, and hands
// decoded events to the registry, relay, and call broker.
package socket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/Anmol1085/social-clone/internal/call"
	"github.com/Anmol1085/social-clone/internal/proto"
	"github.com/Anmol1085/social-clone/internal/registry"
	"github.com/Anmol1085/social-clone/internal/relay"
)

var log = logging.Logger("socket")

// ErrConnGone is returned by Send when the connection is no longer held
// by the server; indistinguishable from offline for callers.
var ErrConnGone = errors.New("connection gone")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// Browser clients connect cross-origin from the SPA dev server.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts websocket connections and routes their events. It is the
// concrete Sender for the relay and broker and the Broadcaster for the
// presence publisher.
type Server struct {
	reg   *registry.Registry
	relay *relay.Relay
	calls *call.Broker

	mu      sync.RWMutex
	clients map[string]*client // connID → client
}

func NewServer(reg *registry.Registry) *Server {
	return &Server{
		reg:     reg,
		clients: make(map[string]*client),
	}
}

// Attach wires the relay and broker after construction (they need the
// server as their Sender, so the hookup is two-phase).
func (s *Server) Attach(r *relay.Relay, b *call.Broker) {
	s.relay = r
	s.calls = b
}

// Handler upgrades HTTP requests into tracked websocket connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugw("upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}

		c := &client{
			id:   uuid.NewString(),
			srv:  s,
			conn: conn,
			send: make(chan []byte, sendBuffer),
		}

		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()

		log.Debugw("connected", "conn", c.id, "remote", r.RemoteAddr)
		go c.writePump()
		go c.readPump()
	})
}

// Send enqueues one event for a single connection. A full send buffer
// drops the frame rather than blocking; delivery here is best-effort by
// contract, and presence rebroadcasts repair any staleness.
func (s *Server) Send(connID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[connID]
	if !ok {
		return ErrConnGone
	}
	select {
	case c.send <- frame:
	default:
		log.Debugw("send buffer full, dropping", "conn", connID, "event", event)
	}
	return nil
}

// Broadcast enqueues one event for every connected client, bound or not.
func (s *Server) Broadcast(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Errorw("broadcast encode", "event", event, "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// dropClient runs once per connection, from the read pump's deferred exit.
// Ordering matters: the connection leaves the client map before the
// registry unregisters, so the presence broadcast never targets it.
func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	c.markClosed()
	close(c.send)
	s.mu.Unlock()

	userID, offline := s.reg.Unregister(c.id)
	log.Debugw("disconnected", "conn", c.id, "user", userID)
	if offline && s.calls != nil {
		s.calls.DropUser(userID)
	}
}

// dispatch handles one inbound frame from a connection.
func (s *Server) dispatch(c *client, raw []byte) {
	if c.isClosed() {
		// Frames read between a drop and the close handshake would
		// otherwise re-register the dead connection.
		return
	}

	var env proto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(c, proto.CodeBadRequest, "malformed envelope")
		return
	}

	if env.Event == proto.EventAddUser {
		s.handleAddUser(c, env.Data)
		return
	}

	// Everything past this point requires a bound identity.
	bound := c.user()
	if bound == "" {
		s.sendError(c, proto.CodeNotRegistered, "announce identity first")
		s.dropClient(c)
		return
	}

	switch env.Event {
	case proto.EventSendMessage:
		var p proto.SendMessage
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ReceiverID == "" {
			s.sendError(c, proto.CodeBadRequest, "bad sendMessage payload")
			return
		}
		if p.SenderID != bound {
			s.rejectSpoof(c, bound, p.SenderID)
			return
		}
		s.relay.Relay(p.ReceiverID, proto.GetMessage{
			SenderID: p.SenderID,
			Text:     p.Text,
			Media:    p.Media,
			Type:     p.Type,
			IV:       p.IV,
		})

	case proto.EventCallUser:
		var p proto.CallUser
		if err := json.Unmarshal(env.Data, &p); err != nil || p.UserToCall == "" {
			s.sendError(c, proto.CodeBadRequest, "bad callUser payload")
			return
		}
		if p.From != "" && p.From != bound {
			s.rejectSpoof(c, bound, p.From)
			return
		}
		if err := s.calls.Initiate(bound, p.UserToCall, p.SignalData, p.Name, p.IsVideo); err != nil {
			s.sendError(c, errCode(err), err.Error())
		}

	case proto.EventAnswerCall:
		var p proto.AnswerCall
		if err := json.Unmarshal(env.Data, &p); err != nil || p.To == "" {
			s.sendError(c, proto.CodeBadRequest, "bad answerCall payload")
			return
		}
		if err := s.calls.Answer(bound, p.To, p.Signal); err != nil {
			s.sendError(c, errCode(err), err.Error())
		}

	case proto.EventIceCandidate:
		var p proto.IceCandidate
		if err := json.Unmarshal(env.Data, &p); err != nil || p.To == "" {
			s.sendError(c, proto.CodeBadRequest, "bad ice-candidate payload")
			return
		}
		if err := s.calls.RelayCandidate(bound, p.To, p.Candidate); err != nil {
			s.sendError(c, errCode(err), err.Error())
		}

	case proto.EventEndCall:
		var p proto.EndCall
		if err := json.Unmarshal(env.Data, &p); err != nil || p.To == "" {
			s.sendError(c, proto.CodeBadRequest, "bad endCall payload")
			return
		}
		if err := s.calls.End(bound, p.To); err != nil {
			s.sendError(c, errCode(err), err.Error())
		}

	default:
		s.sendError(c, proto.CodeBadRequest, "unknown event "+env.Event)
	}
}

func (s *Server) handleAddUser(c *client, data json.RawMessage) {
	var p proto.AddUser
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		s.sendError(c, proto.CodeBadRequest, "bad addUser payload")
		return
	}
	if bound := c.user(); bound != "" && bound != p.UserID {
		// Rebinding a live connection to another identity is impersonation,
		// not a retry.
		s.rejectSpoof(c, bound, p.UserID)
		return
	}
	c.bind(p.UserID)
	s.reg.Register(p.UserID, c.id)
	log.Infow("identity announced", "conn", c.id, "user", p.UserID)
}

// rejectSpoof handles an event claiming an identity not bound to the
// connection: reject loudly and terminate, never silently drop.
func (s *Server) rejectSpoof(c *client, bound, claimed string) {
	log.Warnw("identity spoofing rejected", "conn", c.id, "bound", bound, "claimed", claimed)
	s.sendError(c, proto.CodeIdentityMismatch, "sender identity not bound to this connection")
	// Dropping instead of a hard conn.Close lets the write pump flush the
	// error frame before the close handshake.
	s.dropClient(c)
}

func (s *Server) sendError(c *client, code, msg string) {
	if c.isClosed() {
		return
	}
	frame, err := encodeFrame(proto.EventError, proto.Error{Code: code, Message: msg})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// errCode maps broker errors onto wire error codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, call.ErrRecipientOffline):
		return proto.CodeRecipientOffline
	case errors.Is(err, call.ErrBusy):
		return proto.CodeBusy
	case errors.Is(err, call.ErrNoSuchSession):
		return proto.CodeNoSession
	case errors.Is(err, call.ErrInvalidSessionState):
		return proto.CodeInvalidSessionState
	default:
		return proto.CodeBadRequest
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proto.Envelope{Event: event, Data: data})
}
