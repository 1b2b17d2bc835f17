package models

// MessageKind enumerates the supported message payload kinds.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindFile    MessageKind = "file"
	KindVoice   MessageKind = "voice"
	KindDeleted MessageKind = "deleted"
)

// DeletedContent replaces the body of a soft-deleted message.
const DeletedContent = "This message was deleted"

// EncryptedPlaceholder is substituted when a stored ciphertext cannot be
// decrypted; a bad record must never fail the whole page.
const EncryptedPlaceholder = "[encrypted message]"

// Attachment describes a stored file referenced by a message. The media
// subsystem owns upload; messages only carry the resulting metadata.
type Attachment struct {
	URL      string `json:"url"`
	FileType string `json:"file_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Reaction is one (user, emoji) pair. The pair is unique per message.
type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
	TS    int64  `json:"ts,omitempty"`
}

// ReadReceipt records that a user has read the message.
type ReadReceipt struct {
	User   string `json:"user"`
	ReadAt int64  `json:"read_at"`
}

// EncryptionData carries the per-message nonce and auth tag (base64) for
// encrypted content.
type EncryptionData struct {
	Nonce string `json:"nonce"`
	Tag   string `json:"tag"`
}

type Message struct {
	ID           string          `json:"id"`
	Conversation string          `json:"conversation"`
	Sender       string          `json:"sender"`
	Content      string          `json:"content,omitempty"`
	IsEncrypted  bool            `json:"is_encrypted,omitempty"`
	Encryption   *EncryptionData `json:"encryption,omitempty"`
	Kind         MessageKind     `json:"kind"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
	ReadBy       []ReadReceipt   `json:"read_by,omitempty"`
	// ThreadID references the parent message when this message is a thread
	// reply; ThreadCount on the parent counts its replies.
	ThreadID    string `json:"thread_id,omitempty"`
	ThreadCount int    `json:"thread_count,omitempty"`
	// ExpiresAt is an absolute ns timestamp; 0 means the message never
	// expires.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	IsEdited  bool  `json:"is_edited,omitempty"`
	EditedTS  int64 `json:"edited_ts,omitempty"`
	CreatedTS int64 `json:"created_ts"`
}

// HasReaction reports whether the exact (user, emoji) pair is present.
func (m *Message) HasReaction(user, emoji string) bool {
	for _, r := range m.Reactions {
		if r.User == user && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ReadByUser reports whether user already has a read receipt.
func (m *Message) ReadByUser(user string) bool {
	for _, r := range m.ReadBy {
		if r.User == user {
			return true
		}
	}
	return false
}
