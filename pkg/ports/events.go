package ports

import (
	"context"

	"github.com/aescanero/scaleout/pkg/domain"
)

// MessageHandler processes a message received from the bus
type MessageHandler func(ctx context.Context, msg domain.Message) error

// MessageBus is topic-based publish/subscribe. Subscribe delivers a
// subscribe_ack message to the handler once the subscription is live.
type MessageBus interface {
	Publish(ctx context.Context, topic string, msg domain.Message) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
