package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

// RedisLog stores each room's history as a Redis list of JSON-encoded
// messages under history:<room>. Appends are single RPUSH commands; edit and
// remove are read-modify-write pairs serialized by a per-room mutex, so two
// handlers on one process can never interleave mid-mutation. Edit/remove cost
// is O(history length), fine for bounded room histories.
type RedisLog struct {
	client *redis.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}
}

func historyKey(room string) string {
	return "history:" + room
}

func (l *RedisLog) roomLock(room string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[room]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[room] = lock
	}
	return lock
}

func (l *RedisLog) Append(ctx context.Context, room string, msg *models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := l.client.RPush(ctx, historyKey(room), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (l *RedisLog) Read(ctx context.Context, room string, limit int) ([]*models.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := l.client.LRange(ctx, historyKey(room), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	out := make([]*models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// One corrupt entry should not hide the rest of the log.
			log.Printf("Skipping corrupt history entry in %s: %v", room, err)
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}

func (l *RedisLog) EditInPlace(ctx context.Context, room, messageID, authorID, newText string) (bool, error) {
	lock := l.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	idx, msg, _, err := l.find(ctx, room, messageID)
	if err != nil || msg == nil {
		return false, err
	}
	if msg.AuthorID != authorID {
		return false, nil
	}

	msg.Text = newText
	msg.Edited = true
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message: %w", err)
	}
	if err := l.client.LSet(ctx, historyKey(room), idx, data).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

func (l *RedisLog) Remove(ctx context.Context, room, messageID, authorID string) (bool, error) {
	lock := l.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	_, msg, raw, err := l.find(ctx, room, messageID)
	if err != nil || msg == nil {
		return false, err
	}
	if msg.AuthorID != authorID {
		return false, nil
	}

	if err := l.client.LRem(ctx, historyKey(room), 1, raw).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

// find scans the room list for the first entry with the given id and returns
// its index, decoded form, and raw payload. A missing id is (0, nil, "", nil).
func (l *RedisLog) find(ctx context.Context, room, messageID string) (int64, *models.ChatMessage, string, error) {
	raw, err := l.client.LRange(ctx, historyKey(room), 0, -1).Result()
	if err != nil {
		return 0, nil, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for i, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		if msg.ID == messageID {
			return int64(i), &msg, item, nil
		}
	}
	return 0, nil, "", nil
}
