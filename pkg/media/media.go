// Package media defines the boundary to the file storage subsystem. The
// messaging core never stores or transforms file bytes itself; an Uploader
// implementation hands back the URL and metadata that a file message carries.
package media

import (
	"context"
	"io"

	"chatrixx/pkg/models"
)

// Uploader accepts a raw file and returns the stored attachment metadata.
// Implementations own storage, naming and any size or type policy.
type Uploader interface {
	Upload(ctx context.Context, fileName, contentType string, r io.Reader) (models.Attachment, error)
}
