package history

import (
	"context"
	"errors"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

var ErrStorageUnavailable = errors.New("history storage unavailable")

// Log is a per-room ordered, append-only message store. Reads always return
// entries in original append order. Edit and Remove are author-gated: a
// mismatched author id leaves the log untouched and reports applied=false
// without an error, so callers can skip the follow-up broadcast.
type Log interface {
	Append(ctx context.Context, room string, msg *models.ChatMessage) error
	Read(ctx context.Context, room string, limit int) ([]*models.ChatMessage, error)
	EditInPlace(ctx context.Context, room, messageID, authorID, newText string) (bool, error)
	Remove(ctx context.Context, room, messageID, authorID string) (bool, error)
}
