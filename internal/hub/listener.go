package hub

import (
	"context"
	"log"

	"github.com/frozenbots60-source/kust-chat/internal/bus"
	"github.com/frozenbots60-source/kust-chat/internal/models"
	"github.com/frozenbots60-source/kust-chat/internal/voice"
)

// Listener is the process's single bus subscriber. Started once at startup,
// it routes every received envelope either to the whole local membership of
// its room or, for targeted envelopes, to one local connection. Voice
// join/leave envelopes are also fed into the coordinator so its session
// table covers participants on other processes, not just local sockets.
type Listener struct {
	bus      bus.Bus
	registry *Registry
	voice    *voice.Coordinator
}

func NewListener(b bus.Bus, registry *Registry, coordinator *voice.Coordinator) *Listener {
	return &Listener{bus: b, registry: registry, voice: coordinator}
}

// Run consumes the bus until ctx is cancelled. Dispatch is defensive: an
// envelope this process cannot route is logged and skipped, never fatal.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for env := range ch {
		l.dispatch(ctx, env)
	}
	return ctx.Err()
}

func (l *Listener) dispatch(ctx context.Context, env *models.Envelope) {
	switch env.Type {
	case models.EventDM:
		if _, evicted := l.registry.SendToUser(env.To, env); evicted != nil {
			l.announceEvictions(ctx, []*models.Envelope{evicted})
		}
	case models.EventVoiceGroup:
		l.applyVoiceEvent(env)
		// Directed signals (offer/answer/candidate) carry a target and go
		// to that one connection; join/leave/talking fan out room-wide.
		if env.To != "" {
			if _, evicted := l.registry.SendToUser(env.To, env); evicted != nil {
				l.announceEvictions(ctx, []*models.Envelope{evicted})
			}
			return
		}
		l.announceEvictions(ctx, l.registry.BroadcastLocal(env.Room, env))
	case models.EventMessage, models.EventEdit, models.EventDelete,
		models.EventPresence, models.EventSystem:
		l.announceEvictions(ctx, l.registry.BroadcastLocal(env.Room, env))
	default:
		log.Printf("Ignoring bus envelope with unknown type %q", env.Type)
	}
}

// applyVoiceEvent mirrors join/leave/talking envelopes from every process
// into the local coordinator. The originating process already applied its
// own transition before publishing; Join and Leave are idempotent, so the
// loopback delivery is a no-op there.
func (l *Listener) applyVoiceEvent(env *models.Envelope) {
	switch env.VoiceEvent {
	case models.EventVoiceJoin:
		l.voice.Join(env.Room, env.From, env.FromName)
	case models.EventVoiceLeave:
		l.voice.Leave(env.Room, env.From)
	case models.EventVoiceTalking:
		l.voice.SetMuted(env.Room, env.From, env.Muted)
	}
}

// announceEvictions publishes the presence updates produced when delivery
// evicted dead sockets. Without this the departure stays invisible: the
// evicted connection's own cleanup finds itself already disconnected and
// publishes nothing. If the bus is down the update is at least delivered to
// this process's members, and any further evictions that causes are folded
// into the same worklist.
func (l *Listener) announceEvictions(ctx context.Context, updates []*models.Envelope) {
	for len(updates) > 0 {
		env := updates[0]
		updates = updates[1:]
		if err := l.bus.Publish(ctx, env); err != nil {
			log.Printf("Presence publish after eviction failed, delivering locally: %v", err)
			updates = append(updates, l.registry.BroadcastLocal(env.Room, env)...)
		}
	}
}
