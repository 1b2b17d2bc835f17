package models

// Activity action kinds recorded by the activity logger.
const (
	ActionMessageSend    = "message_send"
	ActionMessageEdit    = "message_edit"
	ActionMessageDelete  = "message_delete"
	ActionConvCreate     = "conversation_create"
	ActionConvArchive    = "conversation_archive"
	ActionConvUnarchive  = "conversation_unarchive"
	ActionGroupCreate    = "group_create"
	ActionGroupUpdate    = "group_update"
	ActionGroupJoin      = "group_join"
	ActionGroupLeave     = "group_leave"
	ActionClearHistory   = "clear_history"
	ActionExportData     = "export_data"
	ActionSettingsUpdate = "settings_update"
	ActionConnRequest    = "connection_request"
	ActionConnAccept     = "connection_accept"
	ActionConnReject     = "connection_reject"
	ActionConnBlock      = "connection_block"
	ActionConnUnblock    = "connection_unblock"
)

// ActivityEntry is one fire-and-forget audit row.
type ActivityEntry struct {
	User    string         `json:"user"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
	TS      int64          `json:"ts"`
}
