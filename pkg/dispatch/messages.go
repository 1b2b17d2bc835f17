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
	"chatrixx/pkg/security"
	"chatrixx/pkg/store"
	"chatrixx/pkg/telemetry"
	"chatrixx/pkg/utils"
)

const (
	maxPageLimit      = 100
	defaultPageLimit  = 50
	messagesCacheTTL  = 60 * time.Second
	unreadCacheTTL    = 24 * time.Hour
	searchResultLimit = 20
	globalSearchLimit = 30
	maxContentBytes   = 16 * 1024
)

// SendMessageInput is the caller-supplied part of a new message.
type SendMessageInput struct {
	Conversation string
	Sender       string
	Content      string
	Kind         models.MessageKind
	Attachments  []models.Attachment
	// ThreadID, when set, makes the message a reply in the given parent
	// message's thread.
	ThreadID string
}

// MessagesPage is one page of a conversation, newest first.
type MessagesPage struct {
	Messages   []models.Message `json:"messages"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	HasMore    bool             `json:"has_more"`
}

// SearchResult pairs a match with the conversation it was found in.
type SearchResult struct {
	Conversation string         `json:"conversation"`
	Message      models.Message `json:"message"`
}

func validateSend(in *SendMessageInput) error {
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	switch in.Kind {
	case models.KindText, models.KindImage, models.KindFile, models.KindVoice:
	default:
		return faults.New(faults.InvalidArgument, "unsupported message kind %q", in.Kind)
	}
	if in.Kind == models.KindText && strings.TrimSpace(in.Content) == "" {
		return faults.New(faults.InvalidArgument, "message content is empty")
	}
	if len(in.Content) > maxContentBytes {
		return faults.New(faults.InvalidArgument, "message content exceeds %d bytes", maxContentBytes)
	}
	if in.Kind != models.KindText && len(in.Attachments) == 0 {
		return faults.New(faults.InvalidArgument, "%s message requires an attachment", in.Kind)
	}
	return nil
}

// SendMessage persists a message, updates the conversation snapshot and
// unread counters, invalidates cached pages, pushes the event to online
// participants and queues notifications for offline ones. The returned
// message carries plaintext content even when stored encrypted.
func (e *Engine) SendMessage(ctx context.Context, in SendMessageInput) (models.Message, error) {
	if err := validateSend(&in); err != nil {
		return models.Message{}, err
	}
	conv, err := store.GetConversation(in.Conversation)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(in.Sender) {
		return models.Message{}, faults.New(faults.Forbidden, "sender is not a participant of this conversation")
	}

	if in.ThreadID != "" {
		parent, err := store.GetMessage(in.ThreadID)
		if err != nil {
			return models.Message{}, err
		}
		if parent.Conversation != in.Conversation {
			return models.Message{}, faults.New(faults.InvalidArgument, "parent message belongs to another conversation")
		}
		if parent.Kind == models.KindDeleted {
			return models.Message{}, faults.New(faults.InvalidState, "cannot reply to a deleted message")
		}
		if parent.ThreadID != "" {
			return models.Message{}, faults.New(faults.InvalidArgument, "threads cannot be nested")
		}
	}

	now := nowNS()
	msg := models.Message{
		ID:           utils.GenMessageID(),
		Conversation: in.Conversation,
		Sender:       in.Sender,
		Content:      in.Content,
		Kind:         in.Kind,
		Attachments:  in.Attachments,
		ThreadID:     in.ThreadID,
		CreatedTS:    now,
	}
	plaintext := in.Content

	if conv.EncryptionEnabled && in.Kind == models.KindText {
		key, err := e.conversationKey(conv.ID)
		if err != nil {
			return models.Message{}, err
		}
		if len(key) == 0 {
			return models.Message{}, faults.New(faults.InvalidState, "conversation requires encryption but no key deriver is configured")
		}
		ct, nonce, tag, err := security.EncryptString(in.Content, key)
		if err != nil {
			return models.Message{}, err
		}
		msg.Content = ct
		msg.IsEncrypted = true
		msg.Encryption = &models.EncryptionData{Nonce: nonce, Tag: tag}
	}
	if conv.Expiration.Enabled {
		secs := conv.Expiration.TimeInSeconds
		if secs <= 0 {
			secs = models.DefaultExpirationSeconds
		}
		msg.ExpiresAt = now + secs*int64(time.Second)
	}

	if err := store.SaveMessage(msg); err != nil {
		return models.Message{}, err
	}
	if in.ThreadID != "" {
		if _, err := store.UpdateMessage(in.ThreadID, func(p *models.Message) error {
			p.ThreadCount++
			return nil
		}); err != nil {
			return models.Message{}, err
		}
	}

	conv, err = store.UpdateConversation(conv.ID, func(c *models.Conversation) error {
		followSnapshot(c, msg)
		if c.UpdatedTS < now {
			c.UpdatedTS = now
		}
		if c.UnreadCounts == nil {
			c.UnreadCounts = map[string]int{}
		}
		for _, p := range c.Participants {
			if p != in.Sender {
				c.UnreadCounts[p]++
			}
		}
		c.UnreadCounts[in.Sender] = 0
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	telemetry.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	for _, p := range conv.Participants {
		if p != in.Sender {
			e.cache.Increment(ctx, cache.UnreadKey(p), 1, unreadCacheTTL)
		}
	}

	view := msg
	view.Content = plaintext
	e.broadcast(conv.Participants, in.Sender, presence.Event{
		Type: "message_received",
		Data: map[string]any{"message": view, "conversation": conv.ID},
	})

	if e.notifier != nil && e.hub != nil {
		_, offline := e.hub.OnlineOf(conv.Participants)
		targets := make([]string, 0, len(offline))
		for _, u := range offline {
			if u != in.Sender {
				targets = append(targets, u)
			}
		}
		if len(targets) > 0 {
			name := e.displayName(ctx, in.Sender)
			go e.notifier.MessageSent(conv, view, name, targets)
		}
	}
	e.record(in.Sender, models.ActionMessageSend, map[string]any{"conversation": conv.ID, "message": msg.ID})
	return view, nil
}

// ReplyToThread sends a reply into parentID's thread.
func (e *Engine) ReplyToThread(ctx context.Context, parentID string, in SendMessageInput) (models.Message, error) {
	if parentID == "" {
		return models.Message{}, faults.New(faults.InvalidArgument, "parent message id is required")
	}
	in.ThreadID = parentID
	return e.SendMessage(ctx, in)
}

// GetMessages returns one page of the conversation for user, newest first.
// Pages are cached per (conversation, user, page, limit); the before cursor
// bypasses the cache. Messages at or before the user's clear-history cursor
// are hidden.
func (e *Engine) GetMessages(ctx context.Context, convID, user string, page, limit int, before int64) (MessagesPage, error) {
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit < 1 || limit > maxPageLimit {
		return MessagesPage{}, faults.New(faults.InvalidArgument, "limit must be between 1 and %d", maxPageLimit)
	}
	if page < 1 {
		page = 1
	}
	conv, err := store.GetConversation(convID)
	if err != nil {
		return MessagesPage{}, err
	}
	if !conv.HasParticipant(user) {
		return MessagesPage{}, faults.New(faults.Forbidden, "not a participant of this conversation")
	}

	key := cache.MessagesKey(convID, user, page, limit)
	if before == 0 {
		var cached MessagesPage
		if e.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	cleared, err := store.GetClearHistory(user, convID)
	if err != nil {
		return MessagesPage{}, err
	}
	msgs, total, err := store.MessagePage(convID, cleared, before, (page-1)*limit, limit)
	if err != nil {
		return MessagesPage{}, err
	}
	msgs = e.decryptView(convID, msgs)

	totalPages := (total + limit - 1) / limit
	out := MessagesPage{
		Messages:   msgs,
		Page:       page,
		TotalPages: totalPages,
		HasMore:    page*limit < total,
	}
	if before == 0 {
		e.cache.Set(ctx, key, out, messagesCacheTTL)
	}
	return out, nil
}

// EditMessage replaces the content of the caller's own message.
func (e *Engine) EditMessage(ctx context.Context, msgID, user, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, faults.New(faults.InvalidArgument, "message content is empty")
	}
	if len(content) > maxContentBytes {
		return models.Message{}, faults.New(faults.InvalidArgument, "message content exceeds %d bytes", maxContentBytes)
	}
	current, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if current.Sender != user {
		return models.Message{}, faults.New(faults.Forbidden, "only the sender can edit a message")
	}
	conv, err := store.GetConversation(current.Conversation)
	if err != nil {
		return models.Message{}, err
	}

	var enc *models.EncryptionData
	stored := content
	encrypted := false
	if conv.EncryptionEnabled && current.Kind == models.KindText {
		key, err := e.conversationKey(conv.ID)
		if err != nil {
			return models.Message{}, err
		}
		ct, nonce, tag, err := security.EncryptString(content, key)
		if err != nil {
			return models.Message{}, err
		}
		stored, encrypted = ct, true
		enc = &models.EncryptionData{Nonce: nonce, Tag: tag}
	}

	updated, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.Kind == models.KindDeleted {
			return faults.New(faults.InvalidState, "cannot edit a deleted message")
		}
		if m.Kind != models.KindText {
			return faults.New(faults.InvalidState, "only text messages can be edited")
		}
		m.Content = stored
		m.IsEncrypted = encrypted
		m.Encryption = enc
		m.IsEdited = true
		m.EditedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	if conv.LastMessage != nil && conv.LastMessage.ID == msgID {
		conv, err = store.UpdateConversation(conv.ID, func(c *models.Conversation) error {
			if c.LastMessage != nil && c.LastMessage.ID == msgID {
				c.LastMessage = snapshotOf(updated)
			}
			return nil
		})
		if err != nil {
			return models.Message{}, err
		}
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	view := updated
	view.Content = content
	e.broadcast(conv.Participants, user, presence.Event{
		Type: "message_edited",
		Data: map[string]any{"message": view, "conversation": conv.ID},
	})
	e.record(user, models.ActionMessageEdit, map[string]any{"conversation": conv.ID, "message": msgID})
	return view, nil
}

// DeleteMessage removes the caller's own message. Messages with thread
// replies are soft-deleted so the thread stays addressable; everything else
// is removed outright. The conversation snapshot is re-resolved when the
// newest message goes away.
func (e *Engine) DeleteMessage(ctx context.Context, msgID, user string) error {
	current, err := store.GetMessage(msgID)
	if err != nil {
		return err
	}
	conv, err := store.GetConversation(current.Conversation)
	if err != nil {
		return err
	}
	if current.Sender != user && !(conv.IsGroup && conv.GroupAdmin == user) {
		return faults.New(faults.Forbidden, "only the sender or the group admin can delete a message")
	}

	if current.ThreadCount > 0 {
		if _, err := store.UpdateMessage(msgID, func(m *models.Message) error {
			m.Kind = models.KindDeleted
			m.Content = models.DeletedContent
			m.IsEncrypted = false
			m.Encryption = nil
			m.Attachments = nil
			m.Reactions = nil
			return nil
		}); err != nil {
			return err
		}
	} else {
		if err := store.DeleteMessage(msgID); err != nil {
			return err
		}
		if current.ThreadID != "" {
			if _, err := store.UpdateMessage(current.ThreadID, func(p *models.Message) error {
				if p.ThreadCount > 0 {
					p.ThreadCount--
				}
				return nil
			}); err != nil && !faults.Is(err, faults.NotFound) {
				return err
			}
		}
	}

	if conv.LastMessage != nil && conv.LastMessage.ID == msgID {
		latest, ok, err := store.LatestMessage(conv.ID)
		if err != nil {
			return err
		}
		conv, err = store.UpdateConversation(conv.ID, func(c *models.Conversation) error {
			if !ok {
				c.LastMessage = nil
			} else {
				c.LastMessage = snapshotOf(latest)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.broadcast(conv.Participants, "", presence.Event{
		Type: "message_deleted",
		Data: map[string]any{"message_id": msgID, "conversation": conv.ID},
	})
	e.record(user, models.ActionMessageDelete, map[string]any{"conversation": conv.ID, "message": msgID})
	return nil
}

// AddReaction adds one (user, emoji) pair to a message. Duplicate pairs are
// rejected with a conflict.
func (e *Engine) AddReaction(ctx context.Context, msgID, user, emoji string) (models.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return models.Message{}, faults.New(faults.InvalidArgument, "emoji is required")
	}
	current, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	conv, err := store.GetConversation(current.Conversation)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(user) {
		return models.Message{}, faults.New(faults.Forbidden, "not a participant of this conversation")
	}

	updated, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.Kind == models.KindDeleted {
			return faults.New(faults.InvalidState, "cannot react to a deleted message")
		}
		if m.HasReaction(user, emoji) {
			return faults.New(faults.Conflict, "reaction already exists")
		}
		m.Reactions = append(m.Reactions, models.Reaction{User: user, Emoji: emoji, TS: nowNS()})
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.broadcast(conv.Participants, user, presence.Event{
		Type: "reaction_added",
		Data: map[string]any{"message_id": msgID, "conversation": conv.ID, "user": user, "emoji": emoji},
	})
	if e.notifier != nil && (e.hub == nil || !e.hub.IsOnline(updated.Sender)) {
		go e.notifier.ReactionAdded(conv, updated, e.displayName(ctx, user), user, emoji)
	}
	return e.decryptView(conv.ID, []models.Message{updated})[0], nil
}

// RemoveReaction removes the caller's (user, emoji) pair from a message.
func (e *Engine) RemoveReaction(ctx context.Context, msgID, user, emoji string) (models.Message, error) {
	current, err := store.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	conv, err := store.GetConversation(current.Conversation)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(user) {
		return models.Message{}, faults.New(faults.Forbidden, "not a participant of this conversation")
	}

	updated, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		for i, r := range m.Reactions {
			if r.User == user && r.Emoji == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return nil
			}
		}
		return faults.New(faults.NotFound, "reaction not found")
	})
	if err != nil {
		return models.Message{}, err
	}

	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.broadcast(conv.Participants, user, presence.Event{
		Type: "reaction_removed",
		Data: map[string]any{"message_id": msgID, "conversation": conv.ID, "user": user, "emoji": emoji},
	})
	return e.decryptView(conv.ID, []models.Message{updated})[0], nil
}

// GetThreadMessages returns a page of the replies under parentID, oldest
// first.
func (e *Engine) GetThreadMessages(ctx context.Context, parentID, user string, page, limit int) (MessagesPage, error) {
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit < 1 || limit > maxPageLimit {
		return MessagesPage{}, faults.New(faults.InvalidArgument, "limit must be between 1 and %d", maxPageLimit)
	}
	if page < 1 {
		page = 1
	}
	parent, err := store.GetMessage(parentID)
	if err != nil {
		return MessagesPage{}, err
	}
	conv, err := store.GetConversation(parent.Conversation)
	if err != nil {
		return MessagesPage{}, err
	}
	if !conv.HasParticipant(user) {
		return MessagesPage{}, faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	msgs, total, err := store.ThreadPage(conv.ID, parentID, (page-1)*limit, limit)
	if err != nil {
		return MessagesPage{}, err
	}
	msgs = e.decryptView(conv.ID, msgs)
	return MessagesPage{
		Messages:   msgs,
		Page:       page,
		TotalPages: (total + limit - 1) / limit,
		HasMore:    page*limit < total,
	}, nil
}

// SearchMessages searches one conversation's plaintext content. Encrypted
// messages are matched against their decrypted form.
func (e *Engine) SearchMessages(ctx context.Context, convID, user, query string) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, faults.New(faults.InvalidArgument, "search query is empty")
	}
	conv, err := store.GetConversation(convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(user) {
		return nil, faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	return e.searchConversation(conv, user, query, searchResultLimit)
}

// searchConversation matches against stored content directly when the
// conversation is plaintext, and against decrypted content otherwise.
func (e *Engine) searchConversation(conv models.Conversation, user, query string, max int) ([]models.Message, error) {
	cleared, err := store.GetClearHistory(user, conv.ID)
	if err != nil {
		return nil, err
	}
	if !conv.EncryptionEnabled {
		matches, err := store.SearchMessages(conv.ID, query, maxScanPerSearch)
		if err != nil {
			return nil, err
		}
		out := []models.Message{}
		for _, m := range matches {
			if m.CreatedTS <= cleared {
				continue
			}
			out = append(out, m)
			if len(out) >= max {
				break
			}
		}
		return out, nil
	}

	page, _, err := store.MessagePage(conv.ID, cleared, 0, 0, maxScanPerSearch)
	if err != nil {
		return nil, err
	}
	page = e.decryptView(conv.ID, page)
	needle := strings.ToLower(query)
	out := []models.Message{}
	for _, m := range page {
		if m.Kind == models.KindDeleted || m.Content == models.EncryptedPlaceholder {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, m)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

// maxScanPerSearch bounds how many recent messages one search pass reads.
const maxScanPerSearch = 2000

// GlobalSearch searches across all of the user's conversations, newest
// conversations first, capped at 30 matches.
func (e *Engine) GlobalSearch(ctx context.Context, user, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, faults.New(faults.InvalidArgument, "search query is empty")
	}
	ids, err := store.ListConversationIDs(user)
	if err != nil {
		return nil, err
	}
	convs := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := store.GetConversation(id)
		if err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			return nil, err
		}
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedTS > convs[j].UpdatedTS })

	out := []SearchResult{}
	for _, conv := range convs {
		if len(out) >= globalSearchLimit {
			break
		}
		matches, err := e.searchConversation(conv, user, query, globalSearchLimit-len(out))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			out = append(out, SearchResult{Conversation: conv.ID, Message: m})
		}
	}
	return out, nil
}

// ClearChatHistory hides everything sent so far from the calling user only.
// Other participants keep their view; nothing is deleted.
func (e *Engine) ClearChatHistory(ctx context.Context, convID, user string) error {
	conv, err := store.GetConversation(convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user) {
		return faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	if err := store.SetClearHistory(user, convID, nowNS()); err != nil {
		return err
	}
	if _, err := store.UpdateConversation(convID, func(c *models.Conversation) error {
		if c.UnreadCounts != nil {
			c.UnreadCounts[user] = 0
		}
		return nil
	}); err != nil {
		return err
	}
	e.invalidateForUser(ctx, convID, user)
	e.cache.Delete(ctx, cache.UnreadKey(user))
	e.record(user, models.ActionClearHistory, map[string]any{"conversation": convID})
	return nil
}

// MarkMessageRead records a read receipt and resets the reader's unread
// counter. Re-reading is a no-op.
func (e *Engine) MarkMessageRead(ctx context.Context, msgID, user string) error {
	current, err := store.GetMessage(msgID)
	if err != nil {
		return err
	}
	conv, err := store.GetConversation(current.Conversation)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user) {
		return faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	if current.Sender == user {
		return nil
	}

	already := false
	if _, err := store.UpdateMessage(msgID, func(m *models.Message) error {
		if m.ReadByUser(user) {
			already = true
			return nil
		}
		m.ReadBy = append(m.ReadBy, models.ReadReceipt{User: user, ReadAt: nowNS()})
		return nil
	}); err != nil {
		return err
	}
	if _, err := store.UpdateConversation(conv.ID, func(c *models.Conversation) error {
		if c.UnreadCounts != nil {
			c.UnreadCounts[user] = 0
		}
		return nil
	}); err != nil {
		return err
	}
	// the ReadBy change is visible in every participant's cached pages
	e.invalidateConversation(ctx, conv.ID, conv.Participants)
	e.cache.Delete(ctx, cache.UnreadKey(user))
	if !already && e.hub != nil {
		e.hub.BroadcastToUser(current.Sender, presence.Event{
			Type: "message_read",
			Data: map[string]any{"message_id": msgID, "conversation": conv.ID, "reader": user},
		})
	}
	return nil
}
