package models

// NotificationSettings mirrors the per-user notification preference set.
// Individual switches default to enabled; MuteAll overrides everything.
type NotificationSettings struct {
	MuteAll            bool `json:"mute_all,omitempty"`
	Messages           bool `json:"messages"`
	GroupMessages      bool `json:"group_messages"`
	MessageReactions   bool `json:"message_reactions"`
	ConnectionRequests bool `json:"connection_requests"`
}

// DefaultNotificationSettings returns the enabled-by-default preference set.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Messages: true, GroupMessages: true, MessageReactions: true, ConnectionRequests: true}
}

// Enabled reports whether notifications of the given kind should be
// delivered for these settings.
func (s NotificationSettings) Enabled(kind string) bool {
	if s.MuteAll {
		return false
	}
	switch kind {
	case "messages":
		return s.Messages
	case "group_messages":
		return s.GroupMessages
	case "message_reactions":
		return s.MessageReactions
	case "connection_requests":
		return s.ConnectionRequests
	}
	return true
}

// User is the slice of the account record the messaging core reads: online
// flag, last seen, notification preferences, device tokens. Account
// management itself lives outside this module.
type User struct {
	ID             string               `json:"id"`
	Name           string               `json:"name,omitempty"`
	Email          string               `json:"email,omitempty"`
	ProfilePicture string               `json:"profile_picture,omitempty"`
	IsOnline       bool                 `json:"is_online,omitempty"`
	LastSeen       int64                `json:"last_seen,omitempty"`
	Notifications  NotificationSettings `json:"notifications"`
	DeviceTokens   []string             `json:"device_tokens,omitempty"`
	CreatedTS      int64                `json:"created_ts,omitempty"`
	UpdatedTS      int64                `json:"updated_ts,omitempty"`
}
