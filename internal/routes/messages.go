package routes

import (
	"net/http"
	"strings"

	"github.com/Anmol1085/social-clone/internal/storage"
)

func registerMessageRoutes(mux *http.ServeMux, d Deps) {
	// POST /api/conversations -- create or fetch the thread for a pair.
	handlePost(mux, "/api/conversations", func(w http.ResponseWriter, r *http.Request, req struct {
		MemberA string `json:"memberA"`
		MemberB string `json:"memberB"`
	}) {
		conv, err := d.Store.EnsureConversation(req.MemberA, req.MemberB)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, conv)
	})

	// GET /api/conversations?user= -- list a user's threads.
	handleGet(mux, "/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user"))
		if userID == "" {
			http.Error(w, "user required", http.StatusBadRequest)
			return
		}
		convs, err := d.Store.ListConversations(userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, convs)
	})

	// POST /api/messages -- durable write, independent of relay delivery.
	handlePost(mux, "/api/messages", func(w http.ResponseWriter, r *http.Request, req struct {
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		Text           string `json:"text"`
		Media          string `json:"media"`
		Type           string `json:"type"`
		IV             string `json:"iv"`
	}) {
		msg, err := d.Store.SaveMessage(storage.Message{
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Text:           req.Text,
			Media:          req.Media,
			Type:           req.Type,
			IV:             req.IV,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debugw("message persisted", "conversation", msg.ConversationID, "id", msg.ID)
		writeJSON(w, msg)
	})

	// GET /api/messages/{conversationId} -- full history, oldest first.
	mux.HandleFunc("/api/messages/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		convID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/messages/"), "/")
		if convID == "" || strings.Contains(convID, "/") {
			http.Error(w, "invalid path, expected /api/messages/{conversationId}", http.StatusBadRequest)
			return
		}
		msgs, err := d.Store.Messages(convID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, msgs)
	})
}
