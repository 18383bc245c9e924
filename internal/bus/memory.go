package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

// MemoryBus is an in-process Bus for single-process deployments and tests.
// Each Subscribe call models one process attached to the broker; Publish
// fans out to all of them in publish order.
type MemoryBus struct {
	mu   sync.Mutex
	subs []chan *models.Envelope
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(_ context.Context, env *models.Envelope) error {
	// Round-trip through JSON so subscribers never share memory with the
	// publisher, same as the wire path.
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		cp := &models.Envelope{}
		if err := json.Unmarshal(data, cp); err != nil {
			continue
		}
		select {
		case sub <- cp:
		default:
			log.Printf("Memory bus subscriber backlogged, dropping envelope type=%s", env.Type)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan *models.Envelope, error) {
	ch := make(chan *models.Envelope, 256)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
