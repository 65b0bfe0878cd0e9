package routes

import (
	"net/http"
	"strings"
)

func registerUserRoutes(mux *http.ServeMux, d Deps) {
	// POST /api/users/key -- publish an encryption public key. Stored
	// opaquely; no verification happens server-side.
	handlePost(mux, "/api/users/key", func(w http.ResponseWriter, r *http.Request, req struct {
		UserID    string `json:"userId"`
		PublicKey string `json:"publicKey"`
	}) {
		if err := d.Store.SetPublicKey(req.UserID, req.PublicKey); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// GET /api/users/key?user= -- fetch a user's published key.
	handleGet(mux, "/api/users/key", func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user"))
		if userID == "" {
			http.Error(w, "user required", http.StatusBadRequest)
			return
		}
		key, ok, err := d.Store.PublicKey(userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no key published", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"userId": userID, "publicKey": key})
	})

	// GET /api/online -- current presence snapshot, same shape as the
	// getUsers broadcast.
	handleGet(mux, "/api/online", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Reg.Snapshot())
	})
}
