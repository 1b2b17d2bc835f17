package dispatch

import (
	"context"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/models"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/store"
)

// SendConnectionRequest creates a pending connection from requester to
// recipient. A pair can hold at most one connection in any state; a second
// request is a Conflict.
func (e *Engine) SendConnectionRequest(ctx context.Context, requester, recipient string) (models.Connection, error) {
	if requester == "" || recipient == "" {
		return models.Connection{}, faults.New(faults.InvalidArgument, "both users are required")
	}
	if requester == recipient {
		return models.Connection{}, faults.New(faults.InvalidArgument, "cannot connect to yourself")
	}

	conn, err := store.UpdateConnectionPair(requester, recipient, func(c *models.Connection, exists bool) error {
		if exists {
			return faults.New(faults.Conflict, "connection already exists")
		}
		now := nowNS()
		*c = models.Connection{
			Requester: requester,
			Recipient: recipient,
			Status:    models.ConnectionPending,
			CreatedTS: now,
			UpdatedTS: now,
		}
		return nil
	})
	if err != nil {
		return models.Connection{}, err
	}

	e.broadcast([]string{recipient}, "", presence.Event{
		Type: "connection_request",
		Data: map[string]any{"requester": requester},
	})
	if e.notifier != nil {
		go e.notifier.ConnectionRequested(conn, e.displayName(ctx, requester))
	}
	e.record(requester, models.ActionConnRequest, map[string]any{"recipient": recipient})
	return conn, nil
}

// AcceptConnection marks the pending request from requester as accepted.
// Only the recipient may accept.
func (e *Engine) AcceptConnection(ctx context.Context, user, requester string) (models.Connection, error) {
	conn, err := store.UpdateConnectionPair(user, requester, func(c *models.Connection, exists bool) error {
		if !exists {
			return faults.New(faults.NotFound, "connection request not found")
		}
		if c.Recipient != user {
			return faults.New(faults.Forbidden, "only the recipient can accept a request")
		}
		if c.Status != models.ConnectionPending {
			return faults.New(faults.InvalidState, "connection is not pending")
		}
		c.Status = models.ConnectionAccepted
		c.UpdatedTS = nowNS()
		return nil
	})
	if err != nil {
		return models.Connection{}, err
	}

	e.broadcast([]string{requester}, "", presence.Event{
		Type: "connection_accepted",
		Data: map[string]any{"user": user},
	})
	e.record(user, models.ActionConnAccept, map[string]any{"requester": requester})
	return conn, nil
}

// RemoveConnection deletes the connection with other, covering both reject
// and cancel. Either side may remove it.
func (e *Engine) RemoveConnection(ctx context.Context, user, other string) error {
	conn, ok, err := store.GetConnection(user, other)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.NotFound, "connection not found")
	}
	if !conn.Involves(user) {
		return faults.New(faults.Forbidden, "not part of this connection")
	}
	if err := store.DeleteConnection(user, other); err != nil {
		return err
	}
	e.record(user, models.ActionConnReject, map[string]any{"other": other})
	return nil
}

// BlockUser marks the connection with other as blocked by user, creating
// the record when the pair was never connected.
func (e *Engine) BlockUser(ctx context.Context, user, other string) (models.Connection, error) {
	if user == other {
		return models.Connection{}, faults.New(faults.InvalidArgument, "cannot block yourself")
	}
	conn, err := store.UpdateConnectionPair(user, other, func(c *models.Connection, exists bool) error {
		now := nowNS()
		if !exists {
			*c = models.Connection{Requester: user, Recipient: other, CreatedTS: now}
		}
		c.Status = models.ConnectionBlocked
		c.BlockedBy = user
		c.UpdatedTS = now
		return nil
	})
	if err != nil {
		return models.Connection{}, err
	}
	e.record(user, models.ActionConnBlock, map[string]any{"blocked": other})
	return conn, nil
}

// UnblockUser removes a blocked connection. Only the user who blocked may
// unblock; the record is deleted entirely, matching a fresh start.
func (e *Engine) UnblockUser(ctx context.Context, user, other string) error {
	conn, ok, err := store.GetConnection(user, other)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.NotFound, "connection not found")
	}
	if conn.Status != models.ConnectionBlocked || conn.BlockedBy != user {
		return faults.New(faults.Forbidden, "only the blocking user can unblock")
	}
	if err := store.DeleteConnection(user, other); err != nil {
		return err
	}
	e.record(user, models.ActionConnUnblock, map[string]any{"unblocked": other})
	return nil
}

// ListConnections returns every connection the user is part of.
func (e *Engine) ListConnections(ctx context.Context, user string) ([]models.Connection, error) {
	return store.ListConnections(user)
}

// PendingRequests returns the requests awaiting the user's answer.
func (e *Engine) PendingRequests(ctx context.Context, user string) ([]models.Connection, error) {
	all, err := store.ListConnections(user)
	if err != nil {
		return nil, err
	}
	out := []models.Connection{}
	for _, c := range all {
		if c.Status == models.ConnectionPending && c.Recipient == user {
			out = append(out, c)
		}
	}
	return out, nil
}

// BlockedUsers returns the connections the user has blocked.
func (e *Engine) BlockedUsers(ctx context.Context, user string) ([]models.Connection, error) {
	all, err := store.ListConnections(user)
	if err != nil {
		return nil, err
	}
	out := []models.Connection{}
	for _, c := range all {
		if c.Status == models.ConnectionBlocked && c.BlockedBy == user {
			out = append(out, c)
		}
	}
	return out, nil
}
