// Package voice tracks the peer-to-peer voice mesh layered on top of the
// room fan-out. Audio never flows through the relay; the coordinator only
// mirrors the client-observable state machine so the process can enforce the
// mesh invariants and emit forced leaves when a socket drops mid-call.
package voice

import (
	"sort"
	"sync"
)

// State of one participant within one room's voice mesh.
type State string

const (
	StateNotInVoice State = "not_in_voice"
	StateJoining    State = "joining"
	StateConnected  State = "connected"
	StateLeaving    State = "leaving"
)

// Participant is one member of a room's voice mesh.
type Participant struct {
	UserID string
	Name   string
	State  State
	Muted  bool
}

type meshRoom struct {
	participants map[string]*Participant
	sessions     map[string]bool // unordered pair keys, one per peer session
}

// Coordinator maintains each room's voice mesh. Local joins and leaves are
// applied directly by the connection handler; remote ones arrive through the
// bus listener, so the table converges on the full mesh even when
// participants span processes. For N connected participants the session
// table always holds exactly N·(N−1)/2 entries: one session per unordered
// pair, no duplicates.
type Coordinator struct {
	mu    sync.Mutex
	rooms map[string]*meshRoom
}

func NewCoordinator() *Coordinator {
	return &Coordinator{rooms: make(map[string]*meshRoom)}
}

// ShouldInitiate reports whether participant a dials the session toward b.
// The rule is fixed: the lexicographically smaller user id always initiates
// and the other side only answers, so a simultaneous join can never produce
// a double dial.
func ShouldInitiate(a, b string) bool {
	return a < b
}

// SessionKey is the canonical id of the session between two participants,
// identical regardless of argument order.
func SessionKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Join marks the user connected and registers one session toward every
// already-connected peer. Re-joining while connected is a no-op. The
// returned peer ids are the ones the joiner pairs with.
func (c *Coordinator) Join(room, userID, name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[room]
	if !ok {
		rm = &meshRoom{
			participants: make(map[string]*Participant),
			sessions:     make(map[string]bool),
		}
		c.rooms[room] = rm
	}

	if p, ok := rm.participants[userID]; ok && p.State == StateConnected {
		return nil
	}
	rm.participants[userID] = &Participant{UserID: userID, Name: name, State: StateConnected}

	var peers []string
	for id, p := range rm.participants {
		if id == userID || p.State != StateConnected {
			continue
		}
		key := SessionKey(userID, id)
		if rm.sessions[key] {
			continue
		}
		rm.sessions[key] = true
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

// Leave removes the participant and tears down all of their sessions,
// whether voluntary or forced by a dropped connection. The returned peer ids
// are the participants whose session tables lost an entry. Idempotent.
func (c *Coordinator) Leave(room, userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[room]
	if !ok {
		return nil
	}
	if _, ok := rm.participants[userID]; !ok {
		return nil
	}
	delete(rm.participants, userID)

	var peers []string
	for id := range rm.participants {
		key := SessionKey(userID, id)
		if rm.sessions[key] {
			delete(rm.sessions, key)
			peers = append(peers, id)
		}
	}
	if len(rm.participants) == 0 {
		delete(c.rooms, room)
	}
	sort.Strings(peers)
	return peers
}

// SetMuted records a mute toggle. Not persisted anywhere else; the broadcast
// is the caller's job.
func (c *Coordinator) SetMuted(room, userID string, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rm, ok := c.rooms[room]; ok {
		if p, ok := rm.participants[userID]; ok {
			p.Muted = muted
		}
	}
}

// InVoice reports whether the user currently has a connected participant
// entry in the room.
func (c *Coordinator) InVoice(room, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[room]
	if !ok {
		return false
	}
	p, ok := rm.participants[userID]
	return ok && p.State == StateConnected
}

// Participants returns the room's current voice members, sorted by user id.
func (c *Coordinator) Participants(room string) []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SessionCount returns the number of active peer sessions in the room.
func (c *Coordinator) SessionCount(room string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rm, ok := c.rooms[room]; ok {
		return len(rm.sessions)
	}
	return 0
}

// Sessions returns the room's active session keys, sorted.
func (c *Coordinator) Sessions(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm, ok := c.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rm.sessions))
	for key := range rm.sessions {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
