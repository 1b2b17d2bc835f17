package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
)

// connKey indexes a connection by its unordered user pair, so a pair can
// hold at most one connection record.
func connKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("connection:" + a + ":" + b)
}

func connIdxKey(user, other string) []byte {
	return []byte("user:" + user + ":connection:" + other)
}

// GetConnection returns the connection between the two users, if any.
func GetConnection(a, b string) (models.Connection, bool, error) {
	var c models.Connection
	if db == nil {
		return c, false, notOpened()
	}
	v, err := getRaw(connKey(a, b))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return c, false, nil
		}
		return c, false, err
	}
	if err := json.Unmarshal(v, &c); err != nil {
		return c, false, fmt.Errorf("invalid connection record: %w", err)
	}
	return c, true, nil
}

// UpdateConnectionPair applies fn to the pair's connection under its stripe
// lock and persists the result. fn receives whether a record already exists
// and may initialize it; returning an error aborts without writing.
func UpdateConnectionPair(a, b string, fn func(c *models.Connection, exists bool) error) (models.Connection, error) {
	if db == nil {
		return models.Connection{}, notOpened()
	}
	mu := lockFor(string(connKey(a, b)))
	mu.Lock()
	defer mu.Unlock()

	c, exists, err := GetConnection(a, b)
	if err != nil {
		return c, err
	}
	if err := fn(&c, exists); err != nil {
		return c, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return c, fmt.Errorf("failed to marshal connection: %w", err)
	}
	if err := db.Set(connKey(a, b), data, pebble.Sync); err != nil {
		logger.Error("save_connection_failed", "requester", c.Requester, "recipient", c.Recipient, "error", err)
		return c, err
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if err := db.Set(connIdxKey(pair[0], pair[1]), []byte{}, pebble.Sync); err != nil {
			logger.Error("save_connection_index_failed", "user", pair[0], "error", err)
			return c, err
		}
	}
	logger.Debug("connection_saved", "requester", c.Requester, "recipient", c.Recipient, "status", string(c.Status))
	return c, nil
}

// DeleteConnection removes the pair's connection record and both index
// entries.
func DeleteConnection(a, b string) error {
	if db == nil {
		return notOpened()
	}
	mu := lockFor(string(connKey(a, b)))
	mu.Lock()
	defer mu.Unlock()

	if err := db.Delete(connKey(a, b), pebble.Sync); err != nil {
		return err
	}
	if err := db.Delete(connIdxKey(a, b), pebble.Sync); err != nil {
		return err
	}
	return db.Delete(connIdxKey(b, a), pebble.Sync)
}

// ListConnections returns every connection the user is part of.
func ListConnections(user string) ([]models.Connection, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("user:" + user + ":connection:")
	iter, err := newPrefixIter(prefix)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Connection
	for iter.First(); iter.Valid(); iter.Next() {
		other := strings.TrimPrefix(string(iter.Key()), string(prefix))
		c, ok, err := GetConnection(user, other)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, iter.Error()
}
