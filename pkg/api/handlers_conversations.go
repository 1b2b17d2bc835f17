package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatrixx/pkg/utils"
)

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	out, err := a.eng.ListConversations(r.Context(), UserID(r), includeArchived)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": out})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.UnreadCount(r.Context(), UserID(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": n})
}

func (a *API) createDirect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, created, err := a.eng.CreateDirect(r.Context(), UserID(r), body.User)
	if err != nil {
		writeFault(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	_ = utils.JSONWrite(w, status, conv)
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
		Image   string   `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.CreateGroup(r.Context(), UserID(r), body.Name, body.Members, body.Image)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, conv)
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.eng.GetConversation(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.ArchiveConversation(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (a *API) unarchive(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.UnarchiveConversation(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "unarchived"})
}

func (a *API) mute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds int64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.eng.MuteConversation(r.Context(), mux.Vars(r)["id"], UserID(r), body.Seconds); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "muted"})
}

func (a *API) unmute(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.UnmuteConversation(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "unmuted"})
}

func (a *API) leaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.LeaveGroup(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "left"})
}

func (a *API) transferAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := a.eng.TransferAdmin(r.Context(), mux.Vars(r)["id"], UserID(r), body.To); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "transferred", "admin": body.To})
}

func (a *API) addMembers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.AddGroupMembers(r.Context(), mux.Vars(r)["id"], UserID(r), body.Members)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) removeMembers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.RemoveGroupMembers(r.Context(), mux.Vars(r)["id"], UserID(r), body.Members)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) updateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  *string `json:"name"`
		Image *string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.UpdateGroup(r.Context(), mux.Vars(r)["id"], UserID(r), body.Name, body.Image)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) setEncryption(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.SetEncryption(r.Context(), mux.Vars(r)["id"], UserID(r), body.Enabled)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *API) setExpiration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool  `json:"enabled"`
		Seconds int64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := a.eng.SetExpiration(r.Context(), mux.Vars(r)["id"], UserID(r), body.Enabled, body.Seconds)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}
