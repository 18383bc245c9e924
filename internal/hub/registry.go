// Package hub tracks live connections per room on one process and fans bus
// envelopes out to them. Presence derived here is process-local by design:
// each process reports only the members it holds sockets for.
package hub

import (
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

var ErrDuplicateName = errors.New("name already taken")

// Conn is the registry's handle on one live socket. Send must not block:
// implementations queue and report an error when the peer can no longer
// accept writes.
type Conn interface {
	UserID() string
	Send(env *models.Envelope) error
}

type member struct {
	conn Conn
	info models.Member
}

type room struct {
	members map[string]*member
}

// Registry is the process-local table of live connections per room.
type Registry struct {
	origin string // stamped on every presence envelope this registry emits

	mu    sync.RWMutex
	rooms map[string]*room
	users map[string]string // user id -> room name, for dm routing
}

func NewRegistry() *Registry {
	return &Registry{
		origin: uuid.NewString(),
		rooms:  make(map[string]*room),
		users:  make(map[string]string),
	}
}

// Connect registers the connection and returns the presence envelope the
// caller should publish.
func (r *Registry) Connect(roomName string, c Conn, info models.Member) *models.Envelope {
	r.mu.Lock()
	rm, ok := r.rooms[roomName]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		r.rooms[roomName] = rm
	}
	rm.members[info.ID] = &member{conn: c, info: info}
	r.users[info.ID] = roomName
	r.mu.Unlock()

	return r.presenceEnvelope(roomName)
}

// Disconnect removes the connection and returns the presence envelope to
// publish, or nil if the connection was not registered. Safe to call more
// than once; only the first call has any effect.
func (r *Registry) Disconnect(roomName, userID string) *models.Envelope {
	r.mu.Lock()
	rm, ok := r.rooms[roomName]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if _, ok := rm.members[userID]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(rm.members, userID)
	delete(r.users, userID)
	if len(rm.members) == 0 {
		// Empty rooms are garbage-collected; a concurrent Connect simply
		// re-creates the entry, both paths hold the registry lock.
		delete(r.rooms, roomName)
	}
	r.mu.Unlock()

	return r.presenceEnvelope(roomName)
}

// BroadcastLocal delivers an envelope to every registered connection of the
// room on this process. Iteration runs over a stable copy of the membership
// so concurrent connect/disconnect cannot expose half-removed state, and a
// failed send on one socket never aborts delivery to the rest: the failed
// socket is dropped from the registry instead of being silently kept. The
// returned envelopes are the presence updates those evictions produced; the
// caller must publish them, or the departure is never announced (the evicted
// connection's own cleanup finds itself already gone and publishes nothing).
func (r *Registry) BroadcastLocal(roomName string, env *models.Envelope) []*models.Envelope {
	r.mu.RLock()
	rm, ok := r.rooms[roomName]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	targets := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	var failed []string
	for _, m := range targets {
		if err := m.conn.Send(env); err != nil {
			log.Printf("Send to %s in %s failed, evicting: %v", m.info.ID, roomName, err)
			failed = append(failed, m.info.ID)
		}
	}
	var updates []*models.Envelope
	for _, id := range failed {
		if p := r.Disconnect(roomName, id); p != nil {
			updates = append(updates, p)
		}
	}
	return updates
}

// SendToUser delivers an envelope to the one local connection with the given
// user id, if this process holds it. A failed send evicts the connection and
// returns the resulting presence update for the caller to publish.
func (r *Registry) SendToUser(userID string, env *models.Envelope) (bool, *models.Envelope) {
	r.mu.RLock()
	roomName, ok := r.users[userID]
	if !ok {
		r.mu.RUnlock()
		return false, nil
	}
	m := r.rooms[roomName].members[userID]
	r.mu.RUnlock()

	if err := m.conn.Send(env); err != nil {
		log.Printf("Send to %s failed, evicting: %v", userID, err)
		return false, r.Disconnect(roomName, userID)
	}
	return true, nil
}

// Presence returns the live local membership of a room, sorted by name for
// stable output.
func (r *Registry) Presence(roomName string) []models.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]models.Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) presenceEnvelope(roomName string) *models.Envelope {
	members := r.Presence(roomName)
	return &models.Envelope{
		Type:    models.EventPresence,
		Room:    roomName,
		Origin:  r.origin,
		Members: members,
		Count:   len(members),
	}
}
