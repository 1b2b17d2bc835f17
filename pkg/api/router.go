// Package api exposes the messaging operations over HTTP and WebSocket.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrixx/pkg/config"
	"chatrixx/pkg/dispatch"
	"chatrixx/pkg/media"
	"chatrixx/pkg/presence"
)

// API holds the request-scoped collaborators for every handler.
type API struct {
	eng       *dispatch.Engine
	hub       *presence.Hub
	uploader  media.Uploader
	jwtSecret []byte
	limiter   *limiterPool
	cors      []string
	sendBuf   int
}

func New(cfg *config.Config, eng *dispatch.Engine, hub *presence.Hub) *API {
	return &API{
		eng:       eng,
		hub:       hub,
		jwtSecret: []byte(cfg.Security.JWTSecret),
		limiter: &limiterPool{
			rps:   cfg.Security.RateLimit.RPS,
			burst: cfg.Security.RateLimit.Burst,
		},
		cors:    cfg.Security.CORS.AllowedOrigins,
		sendBuf: cfg.Presence.SendBuffer,
	}
}

// SetUploader installs the media storage collaborator. Without one the
// upload endpoint reports the feature as unavailable.
func (a *API) SetUploader(u media.Uploader) { a.uploader = u }

// Handler builds the full route table.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(a.authMiddleware, a.rateLimitMiddleware)

	// messages
	v1.HandleFunc("/conversations/{id}/messages", a.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", a.getMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/search", a.searchMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/clear", a.clearHistory).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/export", a.exportConversation).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", a.editMessage).Methods(http.MethodPut)
	v1.HandleFunc("/messages/{id}", a.deleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/reactions", a.addReaction).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/reactions", a.removeReaction).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/read", a.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/thread", a.replyToThread).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/thread", a.getThread).Methods(http.MethodGet)
	v1.HandleFunc("/search", a.globalSearch).Methods(http.MethodGet)
	v1.HandleFunc("/uploads", a.upload).Methods(http.MethodPost)

	// conversations
	v1.HandleFunc("/unread", a.unreadCount).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/direct", a.createDirect).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/group", a.createGroup).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}", a.getConversation).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/archive", a.archive).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/archive", a.unarchive).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/mute", a.mute).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/mute", a.unmute).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/leave", a.leaveGroup).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/admin", a.transferAdmin).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/members", a.addMembers).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/members", a.removeMembers).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/group", a.updateGroup).Methods(http.MethodPut)
	v1.HandleFunc("/conversations/{id}/encryption", a.setEncryption).Methods(http.MethodPut)
	v1.HandleFunc("/conversations/{id}/expiration", a.setExpiration).Methods(http.MethodPut)

	// connections
	v1.HandleFunc("/connections", a.sendConnectionRequest).Methods(http.MethodPost)
	v1.HandleFunc("/connections", a.listConnections).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{user}/accept", a.acceptConnection).Methods(http.MethodPost)
	v1.HandleFunc("/connections/{user}", a.removeConnection).Methods(http.MethodDelete)
	v1.HandleFunc("/connections/{user}/block", a.blockUser).Methods(http.MethodPost)
	v1.HandleFunc("/connections/{user}/block", a.unblockUser).Methods(http.MethodDelete)

	// live connection
	v1.HandleFunc("/ws", a.serveWS).Methods(http.MethodGet)

	var h http.Handler = r
	if len(a.cors) > 0 {
		h = a.corsMiddleware(h)
	}
	return h
}

func (a *API) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	all := false
	for _, o := range a.cors {
		if o == "*" {
			all = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (all || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
