package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/store"
)

// serveWS upgrades the request and attaches the connection to the presence
// hub. The socket joins the rooms of every conversation the user is in so
// typing indicators and message events reach it immediately.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	user := UserID(r)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", user, "error", err)
		return
	}

	client := presence.NewClient(a.hub, conn, user, a.sendBuf)
	a.hub.Register(client)

	if ids, err := store.ListConversationIDs(user); err == nil {
		for _, id := range ids {
			a.hub.JoinRoom(client, id)
		}
	} else {
		logger.Warn("ws_room_join_failed", "user", user, "error", err)
	}

	go client.WritePump()
	go client.ReadPump(a.onWSEvent)
}

func (a *API) checkWSOrigin(r *http.Request) bool {
	if len(a.cors) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range a.cors {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// onWSEvent handles inbound frames from a live connection.
func (a *API) onWSEvent(c *presence.Client, e presence.Event) {
	convID, _ := e.Data["conversation"].(string)
	switch e.Type {
	case "typing_start", "typing_stop":
		if convID == "" || !a.isParticipant(convID, c.UserID) {
			return
		}
		a.hub.SetTyping(convID, c.UserID, e.Type == "typing_start")
	case "join_conversation":
		if convID == "" || !a.isParticipant(convID, c.UserID) {
			return
		}
		a.hub.JoinRoom(c, convID)
	case "leave_conversation":
		if convID != "" {
			a.hub.LeaveRoom(c, convID)
		}
	case "mark_read":
		msgID, _ := e.Data["message_id"].(string)
		if msgID == "" {
			return
		}
		if err := a.eng.MarkMessageRead(context.Background(), msgID, c.UserID); err != nil {
			logger.Debug("ws_mark_read_failed", "user", c.UserID, "message", msgID, "error", err)
		}
	default:
		logger.Debug("ws_unknown_event", "user", c.UserID, "type", e.Type)
	}
}

func (a *API) isParticipant(convID, user string) bool {
	conv, err := store.GetConversation(convID)
	if err != nil {
		return false
	}
	return conv.HasParticipant(user)
}
