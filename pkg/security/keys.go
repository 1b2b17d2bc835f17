package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyDerivation yields the symmetric key for a conversation. It is an
// explicit module boundary: the deterministic server-side deriver below is a
// demonstration-grade stand-in and can be swapped for genuine client-side
// key exchange without touching the dispatch engine.
type KeyDerivation interface {
	ConversationKey(conversationID string) ([]byte, error)
}

// HKDFDeriver derives per-conversation AES-256 keys from a server-held
// secret via HKDF-SHA256. The same conversation id always yields the same
// key; anyone holding the secret can derive every key. Not end-to-end
// encryption.
type HKDFDeriver struct {
	secret []byte
}

// NewHKDFDeriver builds a deriver from the configured secret.
func NewHKDFDeriver(secret string) (*HKDFDeriver, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty encryption secret")
	}
	return &HKDFDeriver{secret: []byte(secret)}, nil
}

// ConversationKey returns the 32-byte key for the conversation.
func (d *HKDFDeriver) ConversationKey(conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("empty conversation id")
	}
	r := hkdf.New(sha256.New, d.secret, nil, []byte("chatrixx:conversation:"+conversationID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
