package app

import (
	"context"
	"time"

	"chatrixx/pkg/cache"
	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/store"
)

// presenceSink persists online transitions and fans them out to the users
// who share a conversation with the affected user, never globally.
type presenceSink struct {
	hub   *presence.Hub
	cache *cache.Cache
}

func (s *presenceSink) PresenceChanged(userID string, online bool, lastSeen time.Time) {
	if _, err := store.UpdateUser(userID, func(u *models.User) error {
		u.IsOnline = online
		u.LastSeen = lastSeen.UTC().UnixNano()
		return nil
	}); err != nil {
		logger.Warn("presence_persist_failed", "user", userID, "error", err)
	}
	s.cache.Delete(context.Background(), cache.ProfileKey(userID))

	peers, err := conversationPeers(userID)
	if err != nil {
		logger.Warn("presence_fanout_failed", "user", userID, "error", err)
		return
	}
	if len(peers) == 0 {
		return
	}
	ev := presence.Event{
		Type: "user_online",
		Data: map[string]any{"user": userID},
	}
	if !online {
		ev.Type = "user_offline"
		ev.Data["last_seen"] = lastSeen.UTC().UnixNano()
	}
	s.hub.BroadcastToUsers(peers, ev)
}

// conversationPeers returns the distinct users sharing a conversation with
// userID.
func conversationPeers(userID string) ([]string, error) {
	ids, err := store.ListConversationIDs(userID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	peers := []string{}
	for _, id := range ids {
		conv, err := store.GetConversation(id)
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range conv.Participants {
			if p != userID && !seen[p] {
				seen[p] = true
				peers = append(peers, p)
			}
		}
	}
	return peers, nil
}
