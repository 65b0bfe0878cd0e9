package socket_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Anmol1085/social-clone/internal/call"
	"github.com/Anmol1085/social-clone/internal/presence"
	"github.com/Anmol1085/social-clone/internal/proto"
	"github.com/Anmol1085/social-clone/internal/registry"
	"github.com/Anmol1085/social-clone/internal/relay"
	"github.com/Anmol1085/social-clone/internal/socket"
)

// newStack spins up the full realtime pipeline behind an httptest server
// and returns the websocket URL.
func newStack(t *testing.T) string {
	t.Helper()

	reg := registry.New()
	srv := socket.NewServer(reg)
	rel := relay.New(reg, srv)
	broker := call.New(reg, srv, call.Options{})
	t.Cleanup(broker.Close)
	srv.Attach(rel, broker)

	pub := presence.New(reg, srv)
	pub.Start()
	t.Cleanup(pub.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(proto.Envelope{Event: event, Data: data}))
}

// readUntil skips unrelated frames (presence rebroadcasts mostly) until
// the wanted event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) proto.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env proto.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %q", event)
		if env.Event == event {
			return env
		}
	}
}

func announce(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, conn, proto.EventAddUser, proto.AddUser{UserID: userID})
	readUntil(t, conn, proto.EventGetUsers)
}

func onlineSet(t *testing.T, env proto.Envelope) map[string]bool {
	t.Helper()
	var entries []registry.Entry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	set := map[string]bool{}
	for _, e := range entries {
		set[e.UserID] = true
	}
	return set
}

func TestAnnouncePublishesPresence(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	send(t, alice, proto.EventAddUser, proto.AddUser{UserID: "alice"})
	env := readUntil(t, alice, proto.EventGetUsers)
	require.True(t, onlineSet(t, env)["alice"])

	bob := dial(t, url)
	send(t, bob, proto.EventAddUser, proto.AddUser{UserID: "bob"})
	env = readUntil(t, bob, proto.EventGetUsers)
	set := onlineSet(t, env)
	require.True(t, set["alice"])
	require.True(t, set["bob"])

	// The earlier client hears about the newcomer too.
	env = readUntil(t, alice, proto.EventGetUsers)
	for !onlineSet(t, env)["bob"] {
		env = readUntil(t, alice, proto.EventGetUsers)
	}
}

func TestDisconnectPublishesPresence(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")
	bob := dial(t, url)
	announce(t, bob, "bob")

	bob.Close()

	env := readUntil(t, alice, proto.EventGetUsers)
	for onlineSet(t, env)["bob"] {
		env = readUntil(t, alice, proto.EventGetUsers)
	}
	require.True(t, onlineSet(t, env)["alice"])
}

func TestMessageRelayedVerbatim(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")
	bob := dial(t, url)
	announce(t, bob, "bob")

	send(t, alice, proto.EventSendMessage, proto.SendMessage{
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "b64:opaque-ciphertext==",
		Type:       "text",
		IV:         "00ffa1b2",
	})

	env := readUntil(t, bob, proto.EventGetMessage)
	var got proto.GetMessage
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, proto.GetMessage{
		SenderID: "alice",
		Text:     "b64:opaque-ciphertext==",
		Type:     "text",
		IV:       "00ffa1b2",
	}, got)
}

func TestMessageToOfflineUserIsSilentlyDropped(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")

	send(t, alice, proto.EventSendMessage, proto.SendMessage{
		SenderID:   "alice",
		ReceiverID: "ghost",
		Text:       "x",
	})

	// No error frame comes back; the next readable event is just presence
	// noise or a timeout.
	alice.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var env proto.Envelope
		if err := alice.ReadJSON(&env); err != nil {
			break // deadline, nothing arrived
		}
		require.NotEqual(t, proto.EventError, env.Event)
	}
}

func TestSpoofedSenderIsRejectedAndClosed(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")
	bob := dial(t, url)
	announce(t, bob, "bob")

	send(t, alice, proto.EventSendMessage, proto.SendMessage{
		SenderID:   "mallory",
		ReceiverID: "bob",
		Text:       "x",
	})

	env := readUntil(t, alice, proto.EventError)
	var e proto.Error
	require.NoError(t, json.Unmarshal(env.Data, &e))
	require.Equal(t, proto.CodeIdentityMismatch, e.Code)

	// The connection is terminated after the error frame.
	alice.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env proto.Envelope
		if err := alice.ReadJSON(&env); err != nil {
			break
		}
	}

	// Bob never sees the spoofed message.
	bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var env proto.Envelope
		if err := bob.ReadJSON(&env); err != nil {
			break
		}
		require.NotEqual(t, proto.EventGetMessage, env.Event)
	}
}

func TestEventBeforeAnnounceIsRejected(t *testing.T) {
	url := newStack(t)

	conn := dial(t, url)
	send(t, conn, proto.EventSendMessage, proto.SendMessage{
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "x",
	})

	env := readUntil(t, conn, proto.EventError)
	var e proto.Error
	require.NoError(t, json.Unmarshal(env.Data, &e))
	require.Equal(t, proto.CodeNotRegistered, e.Code)
}

func TestCallSignalingEndToEnd(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")
	bob := dial(t, url)
	announce(t, bob, "bob")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 alice"}`)
	send(t, alice, proto.EventCallUser, proto.CallUser{
		UserToCall: "bob",
		SignalData: offer,
		From:       "alice",
		Name:       "Alice",
		IsVideo:    true,
	})

	env := readUntil(t, bob, proto.EventCallUser)
	var ring proto.IncomingCall
	require.NoError(t, json.Unmarshal(env.Data, &ring))
	require.Equal(t, "alice", ring.From)
	require.Equal(t, "Alice", ring.Name)
	require.True(t, ring.IsVideo)
	require.JSONEq(t, string(offer), string(ring.Signal))

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 bob"}`)
	send(t, bob, proto.EventAnswerCall, proto.AnswerCall{To: "alice", Signal: answer})

	env = readUntil(t, alice, proto.EventCallAccepted)
	require.JSONEq(t, string(answer), string(env.Data))

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122 192.0.2.1 54400 typ host"}`)
	send(t, bob, proto.EventIceCandidate, proto.IceCandidate{To: "alice", Candidate: cand})

	env = readUntil(t, alice, proto.EventIceCandidate)
	var ice proto.IceCandidate
	require.NoError(t, json.Unmarshal(env.Data, &ice))
	require.JSONEq(t, string(cand), string(ice.Candidate))

	send(t, alice, proto.EventEndCall, proto.EndCall{To: "bob"})
	env = readUntil(t, bob, proto.EventCallEnded)
	var ended proto.CallEnded
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	require.Equal(t, "alice", ended.From)
	require.Equal(t, proto.ReasonHangup, ended.Reason)
}

func TestCallOfflineUserReturnsError(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")

	send(t, alice, proto.EventCallUser, proto.CallUser{
		UserToCall: "ghost",
		SignalData: json.RawMessage(`{}`),
	})

	env := readUntil(t, alice, proto.EventError)
	var e proto.Error
	require.NoError(t, json.Unmarshal(env.Data, &e))
	require.Equal(t, proto.CodeRecipientOffline, e.Code)
}

func TestPeerDisconnectEndsCall(t *testing.T) {
	url := newStack(t)

	alice := dial(t, url)
	announce(t, alice, "alice")
	bob := dial(t, url)
	announce(t, bob, "bob")

	send(t, alice, proto.EventCallUser, proto.CallUser{
		UserToCall: "bob",
		SignalData: json.RawMessage(`{}`),
	})
	readUntil(t, bob, proto.EventCallUser)
	send(t, bob, proto.EventAnswerCall, proto.AnswerCall{To: "alice", Signal: json.RawMessage(`{}`)})
	readUntil(t, alice, proto.EventCallAccepted)

	bob.Close()

	env := readUntil(t, alice, proto.EventCallEnded)
	var ended proto.CallEnded
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	require.Equal(t, "bob", ended.From)
	require.Equal(t, proto.ReasonDisconnected, ended.Reason)
}

func TestUnknownEventReturnsBadRequest(t *testing.T) {
	url := newStack(t)

	conn := dial(t, url)
	announce(t, conn, "alice")
	send(t, conn, "teleport", struct{}{})

	env := readUntil(t, conn, proto.EventError)
	var e proto.Error
	require.NoError(t, json.Unmarshal(env.Data, &e))
	require.Equal(t, proto.CodeBadRequest, e.Code)
}
