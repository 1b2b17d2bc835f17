package models

// ConnectionStatus is the lifecycle state of a connection between two users.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionBlocked  ConnectionStatus = "blocked"
)

// Connection links two users. At most one connection exists per unordered
// pair; a blocked connection records who blocked.
type Connection struct {
	Requester string           `json:"requester"`
	Recipient string           `json:"recipient"`
	Status    ConnectionStatus `json:"status"`
	BlockedBy string           `json:"blocked_by,omitempty"`
	CreatedTS int64            `json:"created_ts"`
	UpdatedTS int64            `json:"updated_ts"`
}

// Involves reports whether user is either side of the connection.
func (c *Connection) Involves(user string) bool {
	return c.Requester == user || c.Recipient == user
}

// Other returns the opposite side of the connection from user.
func (c *Connection) Other(user string) string {
	if c.Requester == user {
		return c.Recipient
	}
	return c.Requester
}
