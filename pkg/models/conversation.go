package models

// LastMessage is a denormalized snapshot of the newest message in a
// conversation. ID always references a live message in the same
// conversation; a nil LastMessage means the conversation is empty.
type LastMessage struct {
	ID      string      `json:"id"`
	Sender  string      `json:"sender"`
	Preview string      `json:"preview,omitempty"`
	Kind    MessageKind `json:"kind"`
	TS      int64       `json:"ts"`
}

// ArchiveEntry marks a conversation as archived for one user.
type ArchiveEntry struct {
	User       string `json:"user"`
	ArchivedAt int64  `json:"archived_at"`
}

// MuteEntry suppresses notifications for one user, optionally until a
// deadline (ns). Until == 0 means muted indefinitely.
type MuteEntry struct {
	User  string `json:"user"`
	Until int64  `json:"until,omitempty"`
}

// ExpirationPolicy controls automatic message expiry for a conversation.
type ExpirationPolicy struct {
	Enabled       bool  `json:"enabled"`
	TimeInSeconds int64 `json:"time_in_seconds,omitempty"`
}

// DefaultExpirationSeconds is applied when a conversation enables expiry
// without choosing a retention period.
const DefaultExpirationSeconds = 86400

type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"is_group,omitempty"`
	GroupName    string   `json:"group_name,omitempty"`
	GroupImage   string   `json:"group_image,omitempty"`
	// GroupAdmin is set for groups only and must be a participant.
	GroupAdmin        string           `json:"group_admin,omitempty"`
	LastMessage       *LastMessage     `json:"last_message,omitempty"`
	EncryptionEnabled bool             `json:"encryption_enabled,omitempty"`
	EncryptionKeyHint string           `json:"encryption_key_hint,omitempty"`
	ArchivedBy        []ArchiveEntry   `json:"archived_by,omitempty"`
	MutedBy           []MuteEntry      `json:"muted_by,omitempty"`
	Expiration        ExpirationPolicy `json:"expiration,omitempty"`
	// UnreadCounts tracks per-participant unread message counts.
	UnreadCounts map[string]int `json:"unread_counts,omitempty"`
	CreatedTS    int64          `json:"created_ts"`
	UpdatedTS    int64          `json:"updated_ts"`
}

// HasParticipant reports membership.
func (c *Conversation) HasParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// MuteFor returns the mute entry for user, or nil.
func (c *Conversation) MuteFor(user string) *MuteEntry {
	for i := range c.MutedBy {
		if c.MutedBy[i].User == user {
			return &c.MutedBy[i]
		}
	}
	return nil
}

// ArchivedFor reports whether user has archived the conversation.
func (c *Conversation) ArchivedFor(user string) bool {
	for _, a := range c.ArchivedBy {
		if a.User == user {
			return true
		}
	}
	return false
}

// ClearHistory is a per (user, conversation) cursor: messages created at or
// before ClearedAt are hidden from that user's reads. One record per pair.
type ClearHistory struct {
	User         string `json:"user"`
	Conversation string `json:"conversation"`
	ClearedAt    int64  `json:"cleared_at"`
}
