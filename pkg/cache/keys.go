package cache

import "fmt"

// Cache key namespaces. Mutating operations invalidate by these patterns;
// keeping the formats in one place means no call site can improvise a key
// the invalidation misses.

// ConversationsKey caches a user's conversation list.
func ConversationsKey(user string) string {
	return fmt.Sprintf("conversations:%s", user)
}

// MessagesKey caches one page of a conversation for one user.
func MessagesKey(conv, user string, page, limit int) string {
	return fmt.Sprintf("messages:%s:%s:%d:%d", conv, user, page, limit)
}

// ProfileKey caches a user profile lookup.
func ProfileKey(user string) string {
	return fmt.Sprintf("profile:%s", user)
}

// UnreadKey caches a user's total unread badge count.
func UnreadKey(user string) string {
	return fmt.Sprintf("unread:%s", user)
}

// ConversationsPattern matches a user's conversation-list entries.
func ConversationsPattern(user string) string {
	return fmt.Sprintf("conversations:%s", user)
}

// MessagesPattern matches every cached page of a conversation.
func MessagesPattern(conv string) string {
	return fmt.Sprintf("messages:%s:*", conv)
}

// UserMessagesPattern matches one user's cached pages of a conversation;
// clear-history invalidates only the clearing user's pages.
func UserMessagesPattern(conv, user string) string {
	return fmt.Sprintf("messages:%s:%s:*", conv, user)
}

// SearchPattern matches a user's cached search results.
func SearchPattern(user string) string {
	return fmt.Sprintf("search:%s:*", user)
}
