// Package bus is the shared broadcast channel between relay processes.
// Every process publishes envelopes to one logical channel and holds one
// long-lived subscription to it for the lifetime of the process. Delivery
// order equals publish order as seen by one subscriber on one channel;
// nothing stronger is promised.
package bus

import (
	"context"
	"errors"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

var ErrBusUnavailable = errors.New("broadcast bus unavailable")

type Bus interface {
	// Publish sends an envelope to every subscriber, including the
	// publisher's own process.
	Publish(ctx context.Context, env *models.Envelope) error

	// Subscribe returns the process's envelope stream. The channel stays
	// open until ctx is cancelled; transient transport failures are
	// handled inside the implementation, never surfaced as a closed
	// channel.
	Subscribe(ctx context.Context) (<-chan *models.Envelope, error)
}
