package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryBus is the in-process transport: one bounded channel per
// recipient, oldest message dropped when the channel is full.
type MemoryBus struct {
	mu       sync.Mutex
	streams  map[string]chan *Envelope
	capacity int
	closed   bool
	logger   *zap.Logger
}

// NewMemoryBus creates an in-process bus with the given per-agent
// capacity.
func NewMemoryBus(capacity int, logger *zap.Logger) *MemoryBus {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryBus{
		streams:  make(map[string]chan *Envelope),
		capacity: capacity,
		logger:   logger,
	}
}

func (b *MemoryBus) stream(agentID string) chan *Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.streams[agentID]
	if !ok {
		ch = make(chan *Envelope, b.capacity)
		b.streams[agentID] = ch
	}
	return ch
}

// Publish implements Bus. A full recipient queue drops its oldest message
// to admit the new one.
func (b *MemoryBus) Publish(_ context.Context, env *Envelope) error {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	ch := b.stream(env.To)
	for {
		select {
		case ch <- env:
			return nil
		default:
			select {
			case dropped := <-ch:
				b.logger.Warn("mailbox pressure, dropping oldest message",
					zap.String("agent", env.To),
					zap.String("dropped_type", string(dropped.Type)))
			default:
			}
		}
	}
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, agentID string) <-chan *Envelope {
	src := b.stream(agentID)
	out := make(chan *Envelope, b.capacity)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
