package notify

import (
	"context"
	"time"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
	"chatrixx/pkg/telemetry"
)

// Sender is the outbound push transport (FCM or compatible). The core never
// depends on its failure: errors are logged and swallowed.
type Sender interface {
	Push(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Service resolves which participants should receive an offline
// notification and hands the payload to the Sender. It runs in its own
// failure domain: dispatch invokes it as a detached goroutine and never
// observes its errors.
type Service struct {
	sender  Sender
	timeout time.Duration
}

func New(sender Sender) *Service {
	return &Service{sender: sender, timeout: 10 * time.Second}
}

// conversationMuted reports whether the conversation is muted for user,
// lazily removing mute entries past their deadline.
func conversationMuted(conv models.Conversation, user string) bool {
	m := conv.MuteFor(user)
	if m == nil {
		return false
	}
	if m.Until > 0 && time.Now().UTC().UnixNano() > m.Until {
		_, err := store.UpdateConversation(conv.ID, func(c *models.Conversation) error {
			kept := c.MutedBy[:0]
			for _, e := range c.MutedBy {
				if e.User != user {
					kept = append(kept, e)
				}
			}
			c.MutedBy = kept
			return nil
		})
		if err != nil {
			logger.Warn("mute_cleanup_failed", "conversation", conv.ID, "user", user, "error", err)
		}
		return false
	}
	return true
}

func previewFor(m models.Message) string {
	switch m.Kind {
	case models.KindImage:
		return "Sent an image"
	case models.KindFile:
		return "Sent a file"
	case models.KindVoice:
		return "Sent a voice message"
	case models.KindText:
		if m.IsEncrypted {
			return "Sent a message"
		}
		return m.Content
	}
	return "Sent a message"
}

// MessageSent notifies the given recipients about a new message. Recipients
// are the offline participants; muted conversations, disabled preference
// types and token-less users are skipped.
func (s *Service) MessageSent(conv models.Conversation, msg models.Message, senderName string, recipients []string) {
	if s.sender == nil || len(recipients) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	prefKind := "messages"
	title := senderName
	body := previewFor(msg)
	if conv.IsGroup {
		prefKind = "group_messages"
		title = conv.GroupName
		body = senderName + ": " + body
	}
	data := map[string]string{
		"type":         "new_message",
		"message_id":   msg.ID,
		"conversation": conv.ID,
		"sender":       msg.Sender,
	}

	for _, uid := range recipients {
		if conversationMuted(conv, uid) {
			continue
		}
		u, err := store.GetUser(uid)
		if err != nil {
			if !faults.Is(err, faults.NotFound) {
				logger.Warn("notify_user_lookup_failed", "user", uid, "error", err)
			}
			continue
		}
		if !u.Notifications.Enabled(prefKind) || len(u.DeviceTokens) == 0 {
			continue
		}
		if err := s.sender.Push(ctx, u.DeviceTokens, title, body, data); err != nil {
			logger.Warn("notify_push_failed", "user", uid, "error", err)
			continue
		}
		telemetry.NotificationsSent.Inc()
	}
}

// ConnectionRequested notifies the recipient of a new connection request.
func (s *Service) ConnectionRequested(conn models.Connection, requesterName string) {
	if s.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	u, err := store.GetUser(conn.Recipient)
	if err != nil {
		if !faults.Is(err, faults.NotFound) {
			logger.Warn("notify_user_lookup_failed", "user", conn.Recipient, "error", err)
		}
		return
	}
	if !u.Notifications.Enabled("connection_requests") || len(u.DeviceTokens) == 0 {
		return
	}
	data := map[string]string{
		"type":      "connection_request",
		"requester": conn.Requester,
	}
	if err := s.sender.Push(ctx, u.DeviceTokens, "New Connection Request", requesterName+" sent you a connection request", data); err != nil {
		logger.Warn("notify_push_failed", "user", conn.Recipient, "error", err)
		return
	}
	telemetry.NotificationsSent.Inc()
}

// ReactionAdded notifies the message sender that someone reacted. Skipped
// when the reactor is the sender, the sender muted the conversation, or
// reaction notifications are disabled.
func (s *Service) ReactionAdded(conv models.Conversation, msg models.Message, reactorName, reactor, emoji string) {
	if s.sender == nil || msg.Sender == reactor {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if conversationMuted(conv, msg.Sender) {
		return
	}
	u, err := store.GetUser(msg.Sender)
	if err != nil {
		if !faults.Is(err, faults.NotFound) {
			logger.Warn("notify_user_lookup_failed", "user", msg.Sender, "error", err)
		}
		return
	}
	if !u.Notifications.Enabled("message_reactions") || len(u.DeviceTokens) == 0 {
		return
	}
	data := map[string]string{
		"type":         "message_reaction",
		"message_id":   msg.ID,
		"conversation": conv.ID,
		"reactor":      reactor,
		"emoji":        emoji,
	}
	if err := s.sender.Push(ctx, u.DeviceTokens, "New Reaction", reactorName+" reacted with "+emoji+" to your message", data); err != nil {
		logger.Warn("notify_push_failed", "user", msg.Sender, "error", err)
		return
	}
	telemetry.NotificationsSent.Inc()
}
