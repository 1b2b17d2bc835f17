package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatrixx/pkg/dispatch"
	"chatrixx/pkg/models"
	"chatrixx/pkg/utils"
)

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content     string              `json:"content"`
		Kind        models.MessageKind  `json:"kind"`
		Attachments []models.Attachment `json:"attachments"`
		ThreadID    string              `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := a.eng.SendMessage(r.Context(), dispatch.SendMessageInput{
		Conversation: mux.Vars(r)["id"],
		Sender:       UserID(r),
		Content:      body.Content,
		Kind:         body.Kind,
		Attachments:  body.Attachments,
		ThreadID:     body.ThreadID,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

func (a *API) getMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
	out, err := a.eng.GetMessages(r.Context(), mux.Vars(r)["id"], UserID(r), page, limit, before)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := a.eng.EditMessage(r.Context(), mux.Vars(r)["id"], UserID(r), body.Content)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.DeleteMessage(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) addReaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := a.eng.AddReaction(r.Context(), mux.Vars(r)["id"], UserID(r), body.Emoji)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (a *API) removeReaction(w http.ResponseWriter, r *http.Request) {
	emoji := r.URL.Query().Get("emoji")
	msg, err := a.eng.RemoveReaction(r.Context(), mux.Vars(r)["id"], UserID(r), emoji)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.MarkMessageRead(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "read"})
}

func (a *API) replyToThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Conversation string              `json:"conversation"`
		Content      string              `json:"content"`
		Kind         models.MessageKind  `json:"kind"`
		Attachments  []models.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := a.eng.ReplyToThread(r.Context(), mux.Vars(r)["id"], dispatch.SendMessageInput{
		Conversation: body.Conversation,
		Sender:       UserID(r),
		Content:      body.Content,
		Kind:         body.Kind,
		Attachments:  body.Attachments,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

func (a *API) getThread(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	out, err := a.eng.GetThreadMessages(r.Context(), mux.Vars(r)["id"], UserID(r), page, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

func (a *API) searchMessages(w http.ResponseWriter, r *http.Request) {
	out, err := a.eng.SearchMessages(r.Context(), mux.Vars(r)["id"], UserID(r), r.URL.Query().Get("q"))
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"results": out})
}

func (a *API) globalSearch(w http.ResponseWriter, r *http.Request) {
	out, err := a.eng.GlobalSearch(r.Context(), UserID(r), r.URL.Query().Get("q"))
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"results": out})
}

func (a *API) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.ClearChatHistory(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (a *API) exportConversation(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := a.eng.ExportConversation(r.Context(), mux.Vars(r)["id"], UserID(r), r.URL.Query().Get("format"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="conversation-export"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
