package history

import (
	"context"
	"sync"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

// MemoryLog keeps each room's history in an in-process slice. It backs
// single-process deployments without Redis and the test suite.
type MemoryLog struct {
	mu    sync.RWMutex
	rooms map[string][]*models.ChatMessage
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rooms: make(map[string][]*models.ChatMessage)}
}

func (l *MemoryLog) Append(_ context.Context, room string, msg *models.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *msg
	l.rooms[room] = append(l.rooms[room], &cp)
	return nil
}

func (l *MemoryLog) Read(_ context.Context, room string, limit int) ([]*models.ChatMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.rooms[room]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	// Snapshot copy so callers never see later in-place edits.
	out := make([]*models.ChatMessage, len(entries))
	for i, m := range entries {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (l *MemoryLog) EditInPlace(_ context.Context, room, messageID, authorID, newText string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.rooms[room] {
		if m.ID == messageID {
			if m.AuthorID != authorID {
				return false, nil
			}
			m.Text = newText
			m.Edited = true
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLog) Remove(_ context.Context, room, messageID, authorID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.rooms[room]
	for i, m := range entries {
		if m.ID == messageID && m.AuthorID == authorID {
			l.rooms[room] = append(entries[:i:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
