package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
)

// Key layout:
//   conv:<cid>:msg:<unix_nano %020d>-<seq %06d>  -> message JSON (ordered)
//   msgidx:<mid>                                 -> primary key bytes
//   exp:<expiry_ns %020d>:<primary key>          -> mid (sweeper index)

func msgPrefix(conv string) []byte { return []byte("conv:" + conv + ":msg:") }

func msgKey(conv string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%06d", conv, ts, s))
}

func msgIdxKey(id string) []byte { return []byte("msgidx:" + id) }

func expKey(expiry int64, primary []byte) []byte {
	return []byte(fmt.Sprintf("exp:%020d:%s", expiry, primary))
}

// SaveMessage appends a message to its conversation under a sortable
// timestamp key and indexes it by id. Messages with an expiry also get an
// entry in the sweeper index.
func SaveMessage(m models.Message) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := msgKey(m.Conversation, m.CreatedTS, nextSeq())
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", m.Conversation, "msg_id", m.ID, "error", err)
		return err
	}
	if err := db.Set(msgIdxKey(m.ID), key, pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "msg_id", m.ID, "error", err)
		return err
	}
	if m.ExpiresAt > 0 {
		if err := db.Set(expKey(m.ExpiresAt, key), []byte(m.ID), pebble.Sync); err != nil {
			logger.Error("save_expiry_index_failed", "msg_id", m.ID, "error", err)
			return err
		}
	}
	logger.Debug("message_saved", "conversation", m.Conversation, "msg_id", m.ID)
	return nil
}

func primaryKeyFor(id string) ([]byte, error) {
	v, err := getRaw(msgIdxKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, faults.New(faults.NotFound, "message not found")
		}
		return nil, err
	}
	return v, nil
}

// GetMessage looks a message up by id.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	key, err := primaryKeyFor(id)
	if err != nil {
		return m, err
	}
	v, err := getRaw(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, faults.New(faults.NotFound, "message not found")
		}
		return m, err
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message record: %w", err)
	}
	return m, nil
}

// UpdateMessage applies fn to the message under its stripe lock and rewrites
// it in place. Used for edits, reactions, read receipts and thread counts;
// the lock makes concurrent read-modify-writes on the same message safe.
func UpdateMessage(id string, fn func(*models.Message) error) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	mu := lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	key, err := primaryKeyFor(id)
	if err != nil {
		return m, err
	}
	v, err := getRaw(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, faults.New(faults.NotFound, "message not found")
		}
		return m, err
	}
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message record: %w", err)
	}
	if err := fn(&m); err != nil {
		return m, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg_id", id, "error", err)
		return m, err
	}
	return m, nil
}

// DeleteMessage removes the message record, its id index and any expiry
// index entry.
func DeleteMessage(id string) error {
	if db == nil {
		return notOpened()
	}
	key, err := primaryKeyFor(id)
	if err != nil {
		return err
	}
	var m models.Message
	if v, gerr := getRaw(key); gerr == nil {
		_ = json.Unmarshal(v, &m)
	}
	if err := db.Delete(key, pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "msg_id", id, "error", err)
		return err
	}
	if err := db.Delete(msgIdxKey(id), pebble.Sync); err != nil {
		return err
	}
	if m.ExpiresAt > 0 {
		if err := db.Delete(expKey(m.ExpiresAt, key), pebble.Sync); err != nil {
			return err
		}
	}
	logger.Debug("message_deleted", "msg_id", id)
	return nil
}

// MessagePage returns one page of a conversation's messages ordered newest
// first, plus the total number of messages matching the filters. Messages at
// or before clearedAfter are excluded (clear-history cursor); before, when
// non-zero, excludes messages created at or after it.
func MessagePage(conv string, clearedAfter, before int64, offset, limit int) ([]models.Message, int, error) {
	if db == nil {
		return nil, 0, notOpened()
	}
	iter, err := newPrefixIter(msgPrefix(conv))
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()
	var out []models.Message
	total := 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message_record", "key", string(iter.Key()), "error", err)
			continue
		}
		if m.CreatedTS <= clearedAfter {
			continue
		}
		if before > 0 && m.CreatedTS >= before {
			continue
		}
		if total >= offset && len(out) < limit {
			out = append(out, m)
		}
		total++
	}
	return out, total, iter.Error()
}

// ThreadPage returns one page of replies to parent, oldest first
// (chronological read order for threads), plus the total reply count.
func ThreadPage(conv, parent string, offset, limit int) ([]models.Message, int, error) {
	if db == nil {
		return nil, 0, notOpened()
	}
	iter, err := newPrefixIter(msgPrefix(conv))
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()
	var out []models.Message
	total := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.ThreadID != parent {
			continue
		}
		if total >= offset && len(out) < limit {
			out = append(out, m)
		}
		total++
	}
	return out, total, iter.Error()
}

// LatestMessage returns the newest message in the conversation, if any.
func LatestMessage(conv string) (models.Message, bool, error) {
	var m models.Message
	if db == nil {
		return m, false, notOpened()
	}
	iter, err := newPrefixIter(msgPrefix(conv))
	if err != nil {
		return m, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return m, false, iter.Error()
	}
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return m, false, fmt.Errorf("invalid message record: %w", err)
	}
	return m, true, nil
}

// SearchMessages scans a conversation for a case-insensitive substring
// match, excluding soft-deleted messages, newest first, capped at max.
func SearchMessages(conv, query string, max int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	q := strings.ToLower(query)
	iter, err := newPrefixIter(msgPrefix(conv))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for ok := iter.Last(); ok && len(out) < max; ok = iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.Kind == models.KindDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) {
			out = append(out, m)
		}
	}
	return out, iter.Error()
}

// ExpiredRef identifies one expired message in the sweeper index.
type ExpiredRef struct {
	MsgID        string
	Conversation string
	ExpiresAt    int64
}

// ExpiredBefore lists messages whose expiry is at or before now (ns).
func ExpiredBefore(now int64) ([]ExpiredRef, error) {
	if db == nil {
		return nil, notOpened()
	}
	lower := []byte("exp:")
	upper := expKey(now+1, nil)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []ExpiredRef
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		m, err := GetMessage(id)
		if err != nil {
			// index entry for an already-removed message; drop it
			k := append([]byte(nil), iter.Key()...)
			_ = db.Delete(k, pebble.Sync)
			continue
		}
		out = append(out, ExpiredRef{MsgID: id, Conversation: m.Conversation, ExpiresAt: m.ExpiresAt})
	}
	return out, iter.Error()
}
