package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
)

func userKey(id string) []byte { return []byte("user:" + id + ":profile") }

// SaveUser writes the user profile record.
func SaveUser(u models.User) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := db.Set(userKey(u.ID), data, pebble.Sync); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	return nil
}

// GetUser returns the stored user or a NotFound fault.
func GetUser(id string) (models.User, error) {
	var u models.User
	if db == nil {
		return u, notOpened()
	}
	v, err := getRaw(userKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return u, faults.New(faults.NotFound, "user not found")
		}
		return u, err
	}
	if err := json.Unmarshal(v, &u); err != nil {
		return u, fmt.Errorf("invalid user record: %w", err)
	}
	return u, nil
}

// UpdateUser applies fn to the user under the stripe lock and persists the
// result. Missing users are created with default notification settings so
// presence updates never depend on account-subsystem ordering.
func UpdateUser(id string, fn func(*models.User) error) (models.User, error) {
	var u models.User
	if db == nil {
		return u, notOpened()
	}
	mu := lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	u, err := GetUser(id)
	if err != nil {
		if !faults.Is(err, faults.NotFound) {
			return u, err
		}
		u = models.User{ID: id, Notifications: models.DefaultNotificationSettings()}
	}
	if err := fn(&u); err != nil {
		return u, err
	}
	if err := SaveUser(u); err != nil {
		return u, err
	}
	return u, nil
}
