package handlers

import (
	"context"
	"log"

	"github.com/frozenbots60-source/kust-chat/config"
	"github.com/frozenbots60-source/kust-chat/internal/blob"
	"github.com/frozenbots60-source/kust-chat/internal/bus"
	"github.com/frozenbots60-source/kust-chat/internal/history"
	"github.com/frozenbots60-source/kust-chat/internal/hub"
	"github.com/frozenbots60-source/kust-chat/internal/models"
	"github.com/frozenbots60-source/kust-chat/internal/voice"
)

// Server bundles the relay core's collaborators behind the HTTP handlers.
type Server struct {
	Config    *config.Config
	Registry  *hub.Registry
	Names     hub.NameDirectory
	Bus       bus.Bus
	History   history.Log
	Voice     *voice.Coordinator
	Directory RoomDirectory
	Blobs     *blob.Store
}

// publish pushes an envelope onto the bus; every process's listener,
// including this one's, turns it into local deliveries. If the bus is
// unreachable, delivery degrades to this process's local members rather than
// dropping the event entirely. Presence updates from sockets evicted during
// that degraded delivery are re-published the same way; membership shrinks
// on every eviction, so the recursion bottoms out.
func (s *Server) publish(ctx context.Context, env *models.Envelope) {
	if err := s.Bus.Publish(ctx, env); err != nil {
		log.Printf("Bus publish failed, delivering locally only: %v", err)
		if env.Type == models.EventDM || env.To != "" {
			if _, evicted := s.Registry.SendToUser(env.To, env); evicted != nil {
				s.publish(ctx, evicted)
			}
			return
		}
		for _, evicted := range s.Registry.BroadcastLocal(env.Room, env) {
			s.publish(ctx, evicted)
		}
	}
}
