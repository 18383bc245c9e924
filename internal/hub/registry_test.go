package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

type fakeConn struct {
	id   string
	fail bool

	mu   sync.Mutex
	envs []*models.Envelope
}

func (f *fakeConn) UserID() string { return f.id }

func (f *fakeConn) Send(env *models.Envelope) error {
	if f.fail {
		return errors.New("socket gone")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return nil
}

func (f *fakeConn) received() []*models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Envelope(nil), f.envs...)
}

func connect(r *Registry, room, id string) *fakeConn {
	c := &fakeConn{id: id}
	r.Connect(room, c, models.Member{ID: id, Name: id})
	return c
}

func TestRegistryConnectPresence(t *testing.T) {
	r := NewRegistry()

	env := r.Connect("general", &fakeConn{id: "u1"}, models.Member{ID: "u1", Name: "alice"})
	require.Equal(t, models.EventPresence, env.Type)
	require.Equal(t, "general", env.Room)
	require.Equal(t, 1, env.Count)
	require.Equal(t, "alice", env.Members[0].Name)
}

func TestRegistryPresenceCarriesOrigin(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()

	first := r1.Connect("general", &fakeConn{id: "u1"}, models.Member{ID: "u1", Name: "u1"})
	second := r1.Connect("general", &fakeConn{id: "u2"}, models.Member{ID: "u2", Name: "u2"})
	other := r2.Connect("general", &fakeConn{id: "u3"}, models.Member{ID: "u3", Name: "u3"})

	// Snapshots are per-process observations: a client receiving presence
	// from several processes tells them apart by origin.
	require.NotEmpty(t, first.Origin)
	require.Equal(t, first.Origin, second.Origin)
	require.NotEqual(t, first.Origin, other.Origin)
}

func TestRegistryConcurrentConnectDisconnect(t *testing.T) {
	const k, m = 40, 15
	r := NewRegistry()

	// K concurrent connects...
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connect(r, "general", fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()

	// ...followed by M concurrent disconnects.
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Disconnect("general", fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()

	require.Len(t, r.Presence("general"), k-m)
}

func TestRegistryDisconnectIdempotent(t *testing.T) {
	r := NewRegistry()
	connect(r, "general", "u1")

	env := r.Disconnect("general", "u1")
	require.NotNil(t, env)
	require.Equal(t, 0, env.Count)

	// Error path and close path may both run cleanup; the second call is a
	// no-op and must not emit a second presence update.
	require.Nil(t, r.Disconnect("general", "u1"))
	require.Nil(t, r.Disconnect("nowhere", "u1"))
}

func TestRegistryBroadcastIsolatesFailedSocket(t *testing.T) {
	r := NewRegistry()
	good1 := connect(r, "general", "u1")
	bad := &fakeConn{id: "u2", fail: true}
	r.Connect("general", bad, models.Member{ID: "u2", Name: "u2"})
	good2 := connect(r, "general", "u3")

	updates := r.BroadcastLocal("general", &models.Envelope{Type: models.EventMessage, Text: "hi"})

	// Healthy sockets got the envelope despite the failure in between.
	require.Len(t, good1.received(), 1)
	require.Len(t, good2.received(), 1)

	// The failed socket was evicted rather than silently kept.
	members := r.Presence("general")
	require.Len(t, members, 2)
	for _, m := range members {
		require.NotEqual(t, "u2", m.ID)
	}

	// The eviction's presence update comes back to the caller for
	// publishing: nobody else will announce this departure.
	require.Len(t, updates, 1)
	require.Equal(t, models.EventPresence, updates[0].Type)
	require.Equal(t, 2, updates[0].Count)
	for _, m := range updates[0].Members {
		require.NotEqual(t, "u2", m.ID)
	}
}

func TestRegistryEvictionPresenceNotLostToCleanup(t *testing.T) {
	r := NewRegistry()
	connect(r, "general", "u1")
	bad := &fakeConn{id: "u2", fail: true}
	r.Connect("general", bad, models.Member{ID: "u2", Name: "u2"})

	updates := r.BroadcastLocal("general", &models.Envelope{Type: models.EventMessage, Text: "hi"})
	require.Len(t, updates, 1)
	require.Equal(t, 1, updates[0].Count)

	// The evicted connection's own cleanup runs Disconnect afterwards and
	// gets nil: the update returned above was the only announcement of the
	// departure, so dropping it would leave survivors with a stale list.
	require.Nil(t, r.Disconnect("general", "u2"))
}

func TestRegistrySendToUser(t *testing.T) {
	r := NewRegistry()
	c1 := connect(r, "general", "u1")
	c2 := connect(r, "general", "u2")

	ok, evicted := r.SendToUser("u2", &models.Envelope{Type: models.EventDM, To: "u2", Text: "psst"})
	require.True(t, ok)
	require.Nil(t, evicted)
	require.Empty(t, c1.received())
	require.Len(t, c2.received(), 1)

	ok, evicted = r.SendToUser("nobody", &models.Envelope{Type: models.EventDM})
	require.False(t, ok)
	require.Nil(t, evicted)
}

func TestRegistrySendToUserEvictsAndReturnsPresence(t *testing.T) {
	r := NewRegistry()
	connect(r, "general", "u1")
	bad := &fakeConn{id: "u2", fail: true}
	r.Connect("general", bad, models.Member{ID: "u2", Name: "u2"})

	ok, evicted := r.SendToUser("u2", &models.Envelope{Type: models.EventDM, To: "u2"})
	require.False(t, ok)
	require.NotNil(t, evicted)
	require.Equal(t, models.EventPresence, evicted.Type)
	require.Equal(t, 1, evicted.Count)
	require.Len(t, r.Presence("general"), 1)
}

func TestRegistryEmptyRoomCollected(t *testing.T) {
	r := NewRegistry()
	connect(r, "general", "u1")
	r.Disconnect("general", "u1")

	require.Empty(t, r.Presence("general"))

	// Re-creating the room after collection must work.
	connect(r, "general", "u2")
	require.Len(t, r.Presence("general"), 1)
}
