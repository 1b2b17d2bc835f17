package utils

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenMessageID returns a lexicographically sortable message id.
func GenMessageID() string {
	return ulid.Make().String()
}

// GenConversationID returns a random conversation id.
func GenConversationID() string {
	return uuid.NewString()
}
