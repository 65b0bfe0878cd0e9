package proto

import (
	"encoding/json"
	"time"
)

// Client → server event names.
const (
	EventAddUser      = "addUser"
	EventSendMessage  = "sendMessage"
	EventCallUser     = "callUser"
	EventAnswerCall   = "answerCall"
	EventIceCandidate = "ice-candidate"
	EventEndCall      = "endCall"
)

// Server → client event names. callUser and ice-candidate are reused on
// the way back down, same as the upstream direction.
const (
	EventGetUsers     = "getUsers"
	EventGetMessage   = "getMessage"
	EventCallAccepted = "callAccepted"
	EventCallEnded    = "callEnded"
	EventError        = "error"
)

// Error codes carried by the error event.
const (
	CodeRecipientOffline    = "recipient-offline"
	CodeBusy                = "busy"
	CodeNoSession           = "no-session"
	CodeInvalidSessionState = "invalid-session-state"
	CodeBadRequest          = "bad-request"
	CodeNotRegistered       = "not-registered"
	CodeIdentityMismatch    = "identity-mismatch"
)

// Reasons carried by the callEnded event.
const (
	ReasonHangup       = "hangup"
	ReasonRejected     = "rejected"
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
)

// Envelope frames every message on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AddUser announces the identity behind a fresh connection.
type AddUser struct {
	UserID string `json:"userId"`
}

// SendMessage is an inbound chat relay request. Text and IV are opaque
// ciphertext material and pass through the server untouched.
type SendMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Media      string `json:"media"`
	Type       string `json:"type"`
	IV         string `json:"iv"`
}

// GetMessage is the delivered counterpart of SendMessage.
type GetMessage struct {
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
	Media    string `json:"media"`
	Type     string `json:"type"`
	IV       string `json:"iv"`
}

// CallUser is an inbound offer. SignalData is an opaque SDP blob.
type CallUser struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
	IsVideo    bool            `json:"isVideo"`
}

// IncomingCall is the offer as delivered to the callee.
type IncomingCall struct {
	Signal  json.RawMessage `json:"signal"`
	From    string          `json:"from"`
	Name    string          `json:"name"`
	IsVideo bool            `json:"isVideo"`
}

// AnswerCall carries the callee's SDP answer back toward the caller.
type AnswerCall struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// IceCandidate is relayed in both directions during trickle ICE.
type IceCandidate struct {
	To        string          `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

// EndCall asks the broker to tear down the session with the named peer.
type EndCall struct {
	To string `json:"to"`
}

// CallEnded notifies one side that the session is terminal.
type CallEnded struct {
	From   string `json:"from"`
	Reason string `json:"reason"`
}

// Error is reported to the initiating connection only.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
