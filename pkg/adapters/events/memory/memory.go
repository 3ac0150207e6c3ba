package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

type subscription struct {
	id      uint64
	handler ports.MessageHandler
}

// Bus is an in-process message bus. Delivery is synchronous: Publish
// returns after every subscriber's handler has run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	closed bool
	logger *zap.Logger
}

// NewBus creates an in-memory bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers msg to all subscribers of topic
func (b *Bus) Publish(ctx context.Context, topic string, msg domain.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return domain.ErrNotRunning
	}
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	if msg.Topic == "" {
		msg.Topic = topic
	}
	for _, s := range subs {
		b.deliver(ctx, topic, s.handler, msg)
	}
	return nil
}

// Subscribe registers handler on topic and delivers a subscribe
// acknowledgment to it. The subscription ends with ctx.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.MessageHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrNotRunning
	}
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topic, id)
	}()

	b.deliver(ctx, topic, handler, domain.Message{
		ID:        uuid.New().String(),
		Kind:      domain.MessageKindSubscribeAck,
		Topic:     topic,
		Timestamp: time.Now(),
	})
	return nil
}

// Unsubscribe removes all subscriptions on topic
func (b *Bus) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, topic)
	return nil
}

// Close drops all subscribers. Later calls fail with ErrNotRunning.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[string][]subscription)
	b.closed = true
	return nil
}

// Subscribers returns the number of handlers on topic
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) deliver(ctx context.Context, topic string, h ports.MessageHandler, msg domain.Message) {
	if err := h(ctx, msg); err != nil {
		b.logger.Warn("handler error",
			zap.String("topic", topic),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}
