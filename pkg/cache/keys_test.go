package cache

import (
	"context"
	"strings"
	"testing"
)

func TestKeysMatchTheirPatterns(t *testing.T) {
	convKey := ConversationsKey("alice")
	if !matchPrefix(ConversationsPattern("alice"), convKey) {
		t.Fatalf("conversations key %q does not match pattern %q", convKey, ConversationsPattern("alice"))
	}

	msgKey := MessagesKey("c1", "bob", 2, 50)
	if !matchPrefix(MessagesPattern("c1"), msgKey) {
		t.Fatalf("messages key %q does not match pattern %q", msgKey, MessagesPattern("c1"))
	}
	if !matchPrefix(UserMessagesPattern("c1", "bob"), msgKey) {
		t.Fatalf("messages key %q does not match user pattern %q", msgKey, UserMessagesPattern("c1", "bob"))
	}

	// another user's page must not be caught by bob's pattern
	otherKey := MessagesKey("c1", "alice", 2, 50)
	if matchPrefix(UserMessagesPattern("c1", "bob"), otherKey) {
		t.Fatalf("user pattern must not match other users")
	}
}

// matchPrefix emulates the redis glob subset the patterns rely on: a
// literal prefix ending in '*'.
func matchPrefix(pattern, key string) bool {
	if !strings.HasSuffix(pattern, "*") {
		return pattern == key
	}
	return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := Disabled()
	ctx := context.Background()
	var out int
	if c.Get(ctx, "k", &out) {
		t.Fatalf("disabled cache must miss")
	}
	c.Set(ctx, "k", 42, 0)
	if c.Get(ctx, "k", &out) {
		t.Fatalf("disabled cache must not store")
	}
	c.Delete(ctx, "k")
	if n := c.DeletePattern(ctx, "messages:*"); n != 0 {
		t.Fatalf("expected 0 deletions, got %d", n)
	}
	if v := c.Increment(ctx, UnreadKey("bob"), 1, 0); v != -1 {
		t.Fatalf("expected -1 from disabled increment, got %d", v)
	}
}

// GetOrSet must still produce the fetched value when nothing can be cached.
func TestGetOrSetComputesWhenDisabled(t *testing.T) {
	c := Disabled()
	var out int
	err := c.GetOrSet(context.Background(), UnreadKey("bob"), &out, 0, func() (any, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 7 {
		t.Fatalf("expected fetched value 7, got %d", out)
	}
}
