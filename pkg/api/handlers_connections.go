package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatrixx/pkg/utils"
)

func (a *API) sendConnectionRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conn, err := a.eng.SendConnectionRequest(r.Context(), UserID(r), body.User)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, conn)
}

func (a *API) listConnections(w http.ResponseWriter, r *http.Request) {
	user := UserID(r)
	switch r.URL.Query().Get("status") {
	case "pending":
		out, err := a.eng.PendingRequests(r.Context(), user)
		if err != nil {
			writeFault(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"connections": out})
	case "blocked":
		out, err := a.eng.BlockedUsers(r.Context(), user)
		if err != nil {
			writeFault(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"connections": out})
	default:
		out, err := a.eng.ListConnections(r.Context(), user)
		if err != nil {
			writeFault(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"connections": out})
	}
}

func (a *API) acceptConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := a.eng.AcceptConnection(r.Context(), UserID(r), mux.Vars(r)["user"])
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conn)
}

func (a *API) removeConnection(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.RemoveConnection(r.Context(), UserID(r), mux.Vars(r)["user"]); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (a *API) blockUser(w http.ResponseWriter, r *http.Request) {
	conn, err := a.eng.BlockUser(r.Context(), UserID(r), mux.Vars(r)["user"])
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conn)
}

func (a *API) unblockUser(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.UnblockUser(r.Context(), UserID(r), mux.Vars(r)["user"]); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "unblocked"})
}
