// Package dispatch implements the message and conversation operations on
// top of the store, fanning results out to live connections, the cache and
// the notification service.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"chatrixx/pkg/activity"
	"chatrixx/pkg/cache"
	"chatrixx/pkg/export"
	"chatrixx/pkg/models"
	"chatrixx/pkg/notify"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/security"
	"chatrixx/pkg/store"
)

// Engine carries the collaborators every operation needs. The store itself
// is package global, mirroring how the database handle is owned.
type Engine struct {
	cache    *cache.Cache
	hub      *presence.Hub
	notifier *notify.Service
	keys     security.KeyDerivation
	activity *activity.Recorder
}

func NewEngine(c *cache.Cache, h *presence.Hub, n *notify.Service, k security.KeyDerivation, a *activity.Recorder) *Engine {
	if c == nil {
		c = cache.Disabled()
	}
	return &Engine{cache: c, hub: h, notifier: n, keys: k, activity: a}
}

const profileCacheTTL = 5 * time.Minute

func nowNS() int64 { return time.Now().UTC().UnixNano() }

// invalidateConversation drops every cached view derived from the
// conversation: its message pages plus each participant's conversation list
// and search results. All invalidation for a write goes through here.
func (e *Engine) invalidateConversation(ctx context.Context, convID string, participants []string) {
	e.cache.DeletePattern(ctx, cache.MessagesPattern(convID))
	for _, u := range participants {
		e.cache.DeletePattern(ctx, cache.ConversationsPattern(u))
		e.cache.DeletePattern(ctx, cache.SearchPattern(u))
	}
}

// invalidateForUser drops only one user's cached views. Used for
// per-user writes such as clearing history or archiving.
func (e *Engine) invalidateForUser(ctx context.Context, convID, user string) {
	e.cache.DeletePattern(ctx, cache.UserMessagesPattern(convID, user))
	e.cache.DeletePattern(ctx, cache.ConversationsPattern(user))
	e.cache.DeletePattern(ctx, cache.SearchPattern(user))
}

func (e *Engine) record(user, action string, details map[string]any) {
	if e.activity != nil {
		e.activity.Record(user, action, details)
	}
}

func (e *Engine) broadcast(users []string, except string, ev presence.Event) {
	if e.hub == nil {
		return
	}
	targets := users[:0:0]
	for _, u := range users {
		if u != except {
			targets = append(targets, u)
		}
	}
	e.hub.BroadcastToUsers(targets, ev)
}

// displayName resolves a user's name through the profile cache, falling back
// to the raw id when the profile is missing or unnamed.
func (e *Engine) displayName(ctx context.Context, id string) string {
	var u models.User
	err := e.cache.GetOrSet(ctx, cache.ProfileKey(id), &u, profileCacheTTL, func() (any, error) {
		return store.GetUser(id)
	})
	if err != nil || u.Name == "" {
		return id
	}
	return u.Name
}

// conversationKey derives the symmetric key for a conversation, nil when no
// deriver is configured.
func (e *Engine) conversationKey(convID string) ([]byte, error) {
	if e.keys == nil {
		return nil, nil
	}
	return e.keys.ConversationKey(convID)
}

// keyHint is a short public fingerprint of the conversation key so clients
// can detect key rotation without seeing the key.
func keyHint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

// decryptView returns copies of msgs with encrypted content replaced by
// plaintext. Records that fail to decrypt degrade to the placeholder, a bad
// record never fails the page.
func (e *Engine) decryptView(convID string, msgs []models.Message) []models.Message {
	var key []byte
	keyErr := false
	for i := range msgs {
		if !msgs[i].IsEncrypted || msgs[i].Encryption == nil {
			continue
		}
		if key == nil && !keyErr {
			k, err := e.conversationKey(convID)
			if err != nil || len(k) == 0 {
				keyErr = true
			}
			key = k
		}
		if keyErr {
			msgs[i].Content = models.EncryptedPlaceholder
			continue
		}
		pt, err := security.DecryptString(msgs[i].Content, msgs[i].Encryption.Nonce, msgs[i].Encryption.Tag, key)
		if err != nil {
			msgs[i].Content = models.EncryptedPlaceholder
			continue
		}
		msgs[i].Content = pt
	}
	return msgs
}

func lastPreview(m models.Message) string {
	switch {
	case m.Kind == models.KindDeleted:
		return models.DeletedContent
	case m.IsEncrypted:
		return models.EncryptedPlaceholder
	case m.Kind == models.KindImage:
		return "Sent an image"
	case m.Kind == models.KindFile:
		return "Sent a file"
	case m.Kind == models.KindVoice:
		return "Sent a voice message"
	}
	return m.Content
}

// ExportConversation renders the user's view of a conversation for
// download and records the export on their activity trail.
func (e *Engine) ExportConversation(ctx context.Context, convID, user, format string) ([]byte, string, error) {
	data, contentType, err := export.Conversation(convID, user, format)
	if err != nil {
		return nil, "", err
	}
	e.record(user, models.ActionExportData, map[string]any{"conversation": convID, "format": format})
	return data, contentType, nil
}

// followSnapshot installs m as the conversation snapshot unless a newer
// message already holds it; concurrent senders may reach the conversation
// record out of creation order.
func followSnapshot(c *models.Conversation, m models.Message) {
	if c.LastMessage == nil || c.LastMessage.TS <= m.CreatedTS {
		c.LastMessage = snapshotOf(m)
	}
}

func snapshotOf(m models.Message) *models.LastMessage {
	return &models.LastMessage{
		ID:      m.ID,
		Sender:  m.Sender,
		Preview: lastPreview(m),
		Kind:    m.Kind,
		TS:      m.CreatedTS,
	}
}
