package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
)

// maxExportMessages bounds a single export pass.
const maxExportMessages = 10000

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

type exportedMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
	Encrypted bool   `json:"encrypted"`
	Edited    bool   `json:"edited"`
	CreatedAt string `json:"created_at"`
}

// Conversation renders the requesting user's view of a conversation as JSON
// or CSV. Deleted messages and anything behind the user's clear-history
// cursor are excluded. Encrypted content is exported as stored, ciphertext
// stays ciphertext.
func Conversation(conversationID, userID, format string) ([]byte, string, error) {
	conv, err := store.GetConversation(conversationID)
	if err != nil {
		return nil, "", err
	}
	if !conv.HasParticipant(userID) {
		return nil, "", faults.New(faults.Forbidden, "not a participant of this conversation")
	}
	cleared, err := store.GetClearHistory(userID, conversationID)
	if err != nil {
		return nil, "", err
	}
	page, _, err := store.MessagePage(conversationID, cleared, 0, 0, maxExportMessages)
	if err != nil {
		return nil, "", err
	}

	out := make([]exportedMessage, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if m.Kind == models.KindDeleted {
			continue
		}
		out = append(out, exportedMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Kind:      string(m.Kind),
			Content:   m.Content,
			Encrypted: m.IsEncrypted,
			Edited:    m.IsEdited,
			CreatedAt: time.Unix(0, m.CreatedTS).UTC().Format(time.RFC3339),
		})
	}

	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "sender", "kind", "content", "encrypted", "edited", "created_at"})
		for _, m := range out {
			_ = w.Write([]string{m.ID, m.Sender, m.Kind, m.Content, strconv.FormatBool(m.Encrypted), strconv.FormatBool(m.Edited), m.CreatedAt})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", faults.Wrap(faults.Transient, err, "render csv export")
		}
		return buf.Bytes(), "text/csv", nil
	case FormatJSON, "":
		b, err := json.MarshalIndent(map[string]any{
			"conversation": conversationID,
			"exported_at":  time.Now().UTC().Format(time.RFC3339),
			"messages":     out,
		}, "", "  ")
		if err != nil {
			return nil, "", faults.Wrap(faults.Transient, err, "render json export")
		}
		return b, "application/json", nil
	}
	return nil, "", faults.New(faults.InvalidArgument, "unsupported export format %q", format)
}
