package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
)

func convKey(id string) []byte { return []byte("conv:" + id + ":meta") }

func memberKey(user, conv string) []byte { return []byte("user:" + user + ":conv:" + conv) }

// directKey indexes a direct conversation by its unordered participant pair.
func directKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("direct:" + a + ":" + b)
}

func clearKey(user, conv string) []byte { return []byte("clear:" + user + ":" + conv) }

// SaveConversation writes the conversation record and its per-participant
// membership index entries.
func SaveConversation(c models.Conversation) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := db.Set(convKey(c.ID), data, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	for _, p := range c.Participants {
		if err := db.Set(memberKey(p, c.ID), []byte(strconv.FormatInt(c.UpdatedTS, 10)), pebble.Sync); err != nil {
			logger.Error("save_membership_failed", "conversation", c.ID, "user", p, "error", err)
			return err
		}
	}
	logger.Debug("conversation_saved", "conversation", c.ID, "participants", len(c.Participants))
	return nil
}

// GetConversation returns the stored conversation or a NotFound fault.
func GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, notOpened()
	}
	v, err := getRaw(convKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return c, faults.New(faults.NotFound, "conversation not found")
		}
		return c, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid conversation record: %w", err)
	}
	return c, nil
}

// UpdateConversation applies fn to the conversation under its stripe lock
// and persists the result. fn returning an error aborts without writing.
func UpdateConversation(id string, fn func(*models.Conversation) error) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, notOpened()
	}
	mu := lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	c, err := GetConversation(id)
	if err != nil {
		return c, err
	}
	if err := fn(&c); err != nil {
		return c, err
	}
	if err := SaveConversation(c); err != nil {
		return c, err
	}
	return c, nil
}

// RemoveMembership drops the membership index entry for (user, conv). The
// conversation record itself is the caller's responsibility.
func RemoveMembership(user, conv string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete(memberKey(user, conv), pebble.Sync)
}

// ListConversationIDs returns the ids of every conversation the user is a
// member of.
func ListConversationIDs(user string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("user:" + user + ":conv:")
	iter, err := newPrefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return out, iter.Error()
}

// FindDirect returns the id of the direct conversation between the two
// users, if one exists.
func FindDirect(a, b string) (string, bool, error) {
	if db == nil {
		return "", false, notOpened()
	}
	v, err := getRaw(directKey(a, b))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(v), true, nil
}

// SaveDirectIndex records the unordered-pair index for a direct
// conversation.
func SaveDirectIndex(a, b, conv string) error {
	if db == nil {
		return notOpened()
	}
	return db.Set(directKey(a, b), []byte(conv), pebble.Sync)
}

// EnsureDirect returns the direct conversation for the unordered pair,
// creating one via build when absent. Lookup and create run under the
// pair's stripe lock so concurrent callers converge on a single record.
// The second return reports whether a new conversation was created.
func EnsureDirect(a, b string, build func() models.Conversation) (models.Conversation, bool, error) {
	if db == nil {
		return models.Conversation{}, false, notOpened()
	}
	mu := lockFor(string(directKey(a, b)))
	mu.Lock()
	defer mu.Unlock()

	if id, ok, err := FindDirect(a, b); err != nil {
		return models.Conversation{}, false, err
	} else if ok {
		c, err := GetConversation(id)
		return c, false, err
	}

	c := build()
	if err := SaveConversation(c); err != nil {
		return models.Conversation{}, false, err
	}
	if err := SaveDirectIndex(a, b, c.ID); err != nil {
		return models.Conversation{}, false, err
	}
	return c, true, nil
}

// SetClearHistory upserts the user's clear-history cursor for the
// conversation.
func SetClearHistory(user, conv string, clearedAt int64) error {
	if db == nil {
		return notOpened()
	}
	rec := models.ClearHistory{User: user, Conversation: conv, ClearedAt: clearedAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := db.Set(clearKey(user, conv), data, pebble.Sync); err != nil {
		logger.Error("save_clear_history_failed", "conversation", conv, "user", user, "error", err)
		return err
	}
	logger.Debug("clear_history_saved", "conversation", conv, "user", user)
	return nil
}

// GetClearHistory returns the cursor timestamp, or 0 when the user never
// cleared the conversation.
func GetClearHistory(user, conv string) (int64, error) {
	if db == nil {
		return 0, notOpened()
	}
	v, err := getRaw(clearKey(user, conv))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var rec models.ClearHistory
	if err := json.Unmarshal(v, &rec); err != nil {
		return 0, fmt.Errorf("invalid clear history record: %w", err)
	}
	return rec.ClearedAt, nil
}
