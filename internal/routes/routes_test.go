package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Anmol1085/social-clone/internal/registry"
	"github.com/Anmol1085/social-clone/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	mux := http.NewServeMux()
	Register(mux, Deps{Store: store, Reg: reg})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, reg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if dst != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp
}

func TestConversationLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversations", map[string]string{
		"memberA": "alice", "memberB": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv storage.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	require.NotEmpty(t, conv.ID)

	// Same pair in the opposite order resolves to the same thread.
	resp = postJSON(t, ts.URL+"/api/conversations", map[string]string{
		"memberA": "bob", "memberB": "alice",
	})
	var again storage.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&again))
	require.Equal(t, conv.ID, again.ID)

	var convs []storage.Conversation
	getJSON(t, ts.URL+"/api/conversations?user=alice", &convs)
	require.Len(t, convs, 1)

	getJSON(t, ts.URL+"/api/conversations?user=stranger", &convs)
	require.Empty(t, convs)
}

func TestConversationValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversations", map[string]string{
		"memberA": "alice", "memberB": "alice",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/conversations", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessagePersistenceAndHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversations", map[string]string{
		"memberA": "alice", "memberB": "bob",
	})
	var conv storage.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))

	resp = postJSON(t, ts.URL+"/api/messages", map[string]string{
		"conversationId": conv.ID,
		"senderId":       "alice",
		"text":           "b64:ciphertext==",
		"iv":             "0a0b0c0d",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved storage.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	require.Equal(t, "text", saved.Type)

	var history []storage.Message
	getJSON(t, ts.URL+"/api/messages/"+conv.ID, &history)
	require.Len(t, history, 1)
	require.Equal(t, "b64:ciphertext==", history[0].Text)
	require.Equal(t, "0a0b0c0d", history[0].IV)

	// Unknown conversation still returns a valid empty list.
	getJSON(t, ts.URL+"/api/messages/nope", &history)
	require.Empty(t, history)
}

func TestMessageToUnknownConversationRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
		"conversationId": "nope",
		"senderId":       "alice",
		"text":           "x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublicKeyDirectory(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/users/key?user=alice", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/users/key", map[string]string{
		"userId": "alice", "publicKey": "MFkwEwYHKo...",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	resp = getJSON(t, ts.URL+"/api/users/key?user=alice", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "MFkwEwYHKo...", got["publicKey"])
}

func TestOnlineSnapshot(t *testing.T) {
	ts, reg := newTestServer(t)

	var entries []registry.Entry
	getJSON(t, ts.URL+"/api/online", &entries)
	require.Empty(t, entries)

	reg.Register("alice", "c1")
	getJSON(t, ts.URL+"/api/online", &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "alice", entries[0].UserID)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/messages", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/online", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/conversations", "application/json",
		bytes.NewReader([]byte(`{"memberA":`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
