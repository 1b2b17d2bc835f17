package dispatch

import (
	"context"
	"sort"
	"strings"
	"time"

	"chatrixx/pkg/cache"
	"chatrixx/pkg/faults"
	"chatrixx/pkg/models"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/store"
	"chatrixx/pkg/utils"
)

const conversationsCacheTTL = 60 * time.Second

// ConversationView is a conversation decorated with the requesting user's
// derived fields.
type ConversationView struct {
	models.Conversation
	UnreadCount int  `json:"unread_count"`
	IsArchived  bool `json:"is_archived,omitempty"`
	IsMuted     bool `json:"is_muted,omitempty"`
	// OnlineParticipants lists the currently connected participants other
	// than the requesting user.
	OnlineParticipants []string `json:"online_participants,omitempty"`
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateDirect returns the direct conversation between the two users,
// creating it when absent. The second return reports whether a new
// conversation was created.
func (e *Engine) CreateDirect(ctx context.Context, creator, other string) (models.Conversation, bool, error) {
	if other == "" || creator == "" {
		return models.Conversation{}, false, faults.New(faults.InvalidArgument, "both participants are required")
	}
	if creator == other {
		return models.Conversation{}, false, faults.New(faults.InvalidArgument, "cannot start a conversation with yourself")
	}

	conv, created, err := store.EnsureDirect(creator, other, func() models.Conversation {
		now := nowNS()
		return models.Conversation{
			ID:           utils.GenConversationID(),
			Participants: []string{creator, other},
			UnreadCounts: map[string]int{},
			CreatedTS:    now,
			UpdatedTS:    now,
		}
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	if !created {
		return conv, false, nil
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.broadcast(conv.Participants, creator, presence.Event{
		Type: "conversation_created",
		Data: map[string]any{"conversation": conv},
	})
	e.record(creator, models.ActionConvCreate, map[string]any{"conversation": conv.ID, "with": other})
	return conv, true, nil
}

// CreateGroup creates a group conversation with the creator as admin.
func (e *Engine) CreateGroup(ctx context.Context, creator, name string, members []string, image string) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "group name is required")
	}
	participants := dedupe(append([]string{creator}, members...))
	if len(participants) < 2 {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "a group needs at least two participants")
	}

	now := nowNS()
	conv := models.Conversation{
		ID:           utils.GenConversationID(),
		Participants: participants,
		IsGroup:      true,
		GroupName:    name,
		GroupImage:   image,
		GroupAdmin:   creator,
		UnreadCounts: map[string]int{},
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if err := store.SaveConversation(conv); err != nil {
		return models.Conversation{}, err
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.broadcast(conv.Participants, creator, presence.Event{
		Type: "group_created",
		Data: map[string]any{"conversation": conv},
	})
	e.record(creator, models.ActionGroupCreate, map[string]any{"conversation": conv.ID, "name": name})
	return conv, nil
}

// ListConversations returns the user's conversations, most recently active
// first, decorated with unread counts, archive/mute flags and presence.
// Archived conversations are included when includeArchived is set. The
// unarchived list is cached briefly.
func (e *Engine) ListConversations(ctx context.Context, user string, includeArchived bool) ([]ConversationView, error) {
	key := cache.ConversationsKey(user)
	if !includeArchived {
		var cached []ConversationView
		if e.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	ids, err := store.ListConversationIDs(user)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationView, 0, len(ids))
	for _, id := range ids {
		conv, err := store.GetConversation(id)
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return nil, err
		}
		archived := conv.ArchivedFor(user)
		if archived && !includeArchived {
			continue
		}
		v := ConversationView{
			Conversation: conv,
			UnreadCount:  conv.UnreadCounts[user],
			IsArchived:   archived,
			IsMuted:      conv.MuteFor(user) != nil,
		}
		if e.hub != nil {
			for _, p := range conv.Participants {
				if p != user && e.hub.IsOnline(p) {
					v.OnlineParticipants = append(v.OnlineParticipants, p)
				}
			}
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })

	if !includeArchived {
		e.cache.Set(ctx, key, out, conversationsCacheTTL)
	}
	return out, nil
}

// UnreadCount returns the user's total unread messages across all
// conversations. Served from the unread badge counter when warm; message
// sends keep the counter fresh with increments, reads and clears drop it.
func (e *Engine) UnreadCount(ctx context.Context, user string) (int, error) {
	var cached int64
	if e.cache.Get(ctx, cache.UnreadKey(user), &cached) {
		return int(cached), nil
	}
	ids, err := store.ListConversationIDs(user)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		conv, err := store.GetConversation(id)
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return 0, err
		}
		total += conv.UnreadCounts[user]
	}
	e.cache.Set(ctx, cache.UnreadKey(user), total, unreadCacheTTL)
	return total, nil
}

// GetConversation returns one conversation for a participant.
func (e *Engine) GetConversation(ctx context.Context, convID, user string) (models.Conversation, error) {
	conv, err := store.GetConversation(convID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(user) {
		return models.Conversation{}, faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	return conv, nil
}

// ArchiveConversation hides the conversation from the user's default list.
// Archiving an already archived conversation is a no-op.
func (e *Engine) ArchiveConversation(ctx context.Context, convID, user string) error {
	_, err := e.memberUpdate(convID, user, func(c *models.Conversation) error {
		if c.ArchivedFor(user) {
			return nil
		}
		c.ArchivedBy = append(c.ArchivedBy, models.ArchiveEntry{User: user, ArchivedAt: nowNS()})
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateForUser(ctx, convID, user)
	e.record(user, models.ActionConvArchive, map[string]any{"conversation": convID})
	return nil
}

// UnarchiveConversation restores the conversation to the user's list.
func (e *Engine) UnarchiveConversation(ctx context.Context, convID, user string) error {
	_, err := e.memberUpdate(convID, user, func(c *models.Conversation) error {
		kept := c.ArchivedBy[:0]
		for _, a := range c.ArchivedBy {
			if a.User != user {
				kept = append(kept, a)
			}
		}
		c.ArchivedBy = kept
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateForUser(ctx, convID, user)
	e.record(user, models.ActionConvUnarchive, map[string]any{"conversation": convID})
	return nil
}

// MuteConversation suppresses notifications for the user. seconds == 0
// mutes indefinitely; an existing mute is replaced.
func (e *Engine) MuteConversation(ctx context.Context, convID, user string, seconds int64) error {
	if seconds < 0 {
		return faults.New(faults.InvalidArgument, "mute duration cannot be negative")
	}
	until := int64(0)
	if seconds > 0 {
		until = nowNS() + seconds*int64(time.Second)
	}
	_, err := e.memberUpdate(convID, user, func(c *models.Conversation) error {
		for i := range c.MutedBy {
			if c.MutedBy[i].User == user {
				c.MutedBy[i].Until = until
				return nil
			}
		}
		c.MutedBy = append(c.MutedBy, models.MuteEntry{User: user, Until: until})
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateForUser(ctx, convID, user)
	return nil
}

// UnmuteConversation removes the user's mute, if any.
func (e *Engine) UnmuteConversation(ctx context.Context, convID, user string) error {
	_, err := e.memberUpdate(convID, user, func(c *models.Conversation) error {
		kept := c.MutedBy[:0]
		for _, m := range c.MutedBy {
			if m.User != user {
				kept = append(kept, m)
			}
		}
		c.MutedBy = kept
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateForUser(ctx, convID, user)
	return nil
}

// memberUpdate applies fn to the conversation after checking that the user
// is a participant.
func (e *Engine) memberUpdate(convID, user string, fn func(*models.Conversation) error) (models.Conversation, error) {
	return store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(user) {
			return faults.New(faults.Forbidden, "not a participant of this conversation")
		}
		return fn(c)
	})
}

// LeaveGroup removes the caller from a group. The admin must transfer
// ownership first unless they are the last participant.
func (e *Engine) LeaveGroup(ctx context.Context, convID, user string) error {
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.IsGroup {
			return faults.New(faults.InvalidArgument, "cannot leave a direct conversation")
		}
		if !c.HasParticipant(user) {
			return faults.New(faults.Forbidden, "not a participant of this conversation")
		}
		if c.GroupAdmin == user && len(c.Participants) > 1 {
			return faults.New(faults.InvalidState, "transfer group ownership before leaving")
		}
		kept := c.Participants[:0]
		for _, p := range c.Participants {
			if p != user {
				kept = append(kept, p)
			}
		}
		c.Participants = kept
		if c.UnreadCounts != nil {
			delete(c.UnreadCounts, user)
		}
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return err
	}
	if err := store.RemoveMembership(user, convID); err != nil {
		return err
	}

	e.invalidateConversation(ctx, convID, append([]string{user}, conv.Participants...))
	e.broadcast(conv.Participants, "", presence.Event{
		Type: "group_member_left",
		Data: map[string]any{"conversation": convID, "user": user},
	})
	e.record(user, models.ActionGroupLeave, map[string]any{"conversation": convID})
	return nil
}

// TransferAdmin hands group ownership to another participant.
func (e *Engine) TransferAdmin(ctx context.Context, convID, admin, to string) error {
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.IsGroup {
			return faults.New(faults.InvalidArgument, "not a group conversation")
		}
		if c.GroupAdmin != admin {
			return faults.New(faults.Forbidden, "only the group admin can transfer ownership")
		}
		if !c.HasParticipant(to) {
			return faults.New(faults.InvalidArgument, "new admin must be a participant")
		}
		c.GroupAdmin = to
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return err
	}
	e.invalidateConversation(ctx, convID, conv.Participants)
	e.broadcast(conv.Participants, "", presence.Event{
		Type: "group_admin_changed",
		Data: map[string]any{"conversation": convID, "admin": to},
	})
	e.record(admin, models.ActionGroupUpdate, map[string]any{"conversation": convID, "new_admin": to})
	return nil
}

// AddGroupMembers adds members to a group. Existing participants are
// skipped silently.
func (e *Engine) AddGroupMembers(ctx context.Context, convID, admin string, members []string) (models.Conversation, error) {
	members = dedupe(members)
	if len(members) == 0 {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "no members to add")
	}
	added := []string{}
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.IsGroup {
			return faults.New(faults.InvalidArgument, "not a group conversation")
		}
		if c.GroupAdmin != admin {
			return faults.New(faults.Forbidden, "only the group admin can add members")
		}
		for _, m := range members {
			if !c.HasParticipant(m) {
				c.Participants = append(c.Participants, m)
				added = append(added, m)
			}
		}
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	e.invalidateConversation(ctx, convID, conv.Participants)
	e.broadcast(conv.Participants, "", presence.Event{
		Type: "group_members_added",
		Data: map[string]any{"conversation": convID, "members": added},
	})
	for _, m := range added {
		e.record(m, models.ActionGroupJoin, map[string]any{"conversation": convID, "added_by": admin})
	}
	return conv, nil
}

// RemoveGroupMembers removes members from a group. The admin cannot be
// removed.
func (e *Engine) RemoveGroupMembers(ctx context.Context, convID, admin string, members []string) (models.Conversation, error) {
	members = dedupe(members)
	if len(members) == 0 {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "no members to remove")
	}
	removed := []string{}
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.IsGroup {
			return faults.New(faults.InvalidArgument, "not a group conversation")
		}
		if c.GroupAdmin != admin {
			return faults.New(faults.Forbidden, "only the group admin can remove members")
		}
		for _, m := range members {
			if m == admin {
				return faults.New(faults.InvalidArgument, "the group admin cannot be removed")
			}
		}
		for _, m := range members {
			if !c.HasParticipant(m) {
				continue
			}
			kept := c.Participants[:0]
			for _, p := range c.Participants {
				if p != m {
					kept = append(kept, p)
				}
			}
			c.Participants = kept
			if c.UnreadCounts != nil {
				delete(c.UnreadCounts, m)
			}
			removed = append(removed, m)
		}
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	for _, m := range removed {
		if err := store.RemoveMembership(m, convID); err != nil {
			return models.Conversation{}, err
		}
	}

	e.invalidateConversation(ctx, convID, append(removed, conv.Participants...))
	e.broadcast(conv.Participants, "", presence.Event{
		Type: "group_members_removed",
		Data: map[string]any{"conversation": convID, "members": removed},
	})
	e.record(admin, models.ActionGroupUpdate, map[string]any{"conversation": convID, "removed": removed})
	return conv, nil
}

// UpdateGroup changes the group's name and image. Nil fields are left
// untouched.
func (e *Engine) UpdateGroup(ctx context.Context, convID, admin string, name, image *string) (models.Conversation, error) {
	if name == nil && image == nil {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "nothing to update")
	}
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.IsGroup {
			return faults.New(faults.InvalidArgument, "not a group conversation")
		}
		if c.GroupAdmin != admin {
			return faults.New(faults.Forbidden, "only the group admin can update the group")
		}
		if name != nil {
			n := strings.TrimSpace(*name)
			if n == "" {
				return faults.New(faults.InvalidArgument, "group name cannot be empty")
			}
			c.GroupName = n
		}
		if image != nil {
			c.GroupImage = *image
		}
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	e.invalidateConversation(ctx, convID, conv.Participants)
	e.broadcast(conv.Participants, admin, presence.Event{
		Type: "group_updated",
		Data: map[string]any{"conversation": conv},
	})
	e.record(admin, models.ActionGroupUpdate, map[string]any{"conversation": convID})
	return conv, nil
}

// SetEncryption toggles end-to-end storage encryption for a conversation.
// In groups only the admin may toggle it; in direct conversations either
// participant can. Existing messages keep the form they were stored in.
func (e *Engine) SetEncryption(ctx context.Context, convID, user string, enabled bool) (models.Conversation, error) {
	hint := ""
	if enabled {
		key, err := e.conversationKey(convID)
		if err != nil {
			return models.Conversation{}, err
		}
		if len(key) == 0 {
			return models.Conversation{}, faults.New(faults.InvalidState, "no key deriver is configured")
		}
		hint = keyHint(key)
	}
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(user) {
			return faults.New(faults.Forbidden, "not a participant of this conversation")
		}
		if c.IsGroup && c.GroupAdmin != user {
			return faults.New(faults.Forbidden, "only the group admin can change encryption")
		}
		c.EncryptionEnabled = enabled
		c.EncryptionKeyHint = hint
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	e.invalidateConversation(ctx, convID, conv.Participants)
	e.broadcast(conv.Participants, user, presence.Event{
		Type: "encryption_changed",
		Data: map[string]any{"conversation": convID, "enabled": enabled},
	})
	e.record(user, models.ActionSettingsUpdate, map[string]any{"conversation": convID, "encryption": enabled})
	return conv, nil
}

// SetExpiration configures automatic message expiry for new messages.
// Already stored messages keep their original deadline.
func (e *Engine) SetExpiration(ctx context.Context, convID, user string, enabled bool, seconds int64) (models.Conversation, error) {
	if seconds < 0 {
		return models.Conversation{}, faults.New(faults.InvalidArgument, "expiration period cannot be negative")
	}
	if enabled && seconds == 0 {
		seconds = models.DefaultExpirationSeconds
	}
	conv, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(user) {
			return faults.New(faults.Forbidden, "not a participant of this conversation")
		}
		if c.IsGroup && c.GroupAdmin != user {
			return faults.New(faults.Forbidden, "only the group admin can change expiration")
		}
		c.Expiration = models.ExpirationPolicy{Enabled: enabled, TimeInSeconds: seconds}
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	e.invalidateConversation(ctx, convID, conv.Participants)
	e.broadcast(conv.Participants, user, presence.Event{
		Type: "expiration_changed",
		Data: map[string]any{"conversation": convID, "enabled": enabled, "seconds": seconds},
	})
	e.record(user, models.ActionSettingsUpdate, map[string]any{"conversation": convID, "expiration": enabled})
	return conv, nil
}
