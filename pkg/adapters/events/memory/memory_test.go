package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/domain"
)

func collect(into *[]domain.Message) func(context.Context, domain.Message) error {
	return func(_ context.Context, msg domain.Message) error {
		*into = append(*into, msg)
		return nil
	}
}

func TestSubscribeDeliversAck(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	var got []domain.Message

	require.NoError(t, bus.Subscribe(context.Background(), "broadcast", collect(&got)))

	require.Len(t, got, 1)
	assert.Equal(t, domain.MessageKindSubscribeAck, got[0].Kind)
	assert.Equal(t, "broadcast", got[0].Topic)
}

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ctx := context.Background()
	var a, b, other []domain.Message

	require.NoError(t, bus.Subscribe(ctx, "broadcast", collect(&a)))
	require.NoError(t, bus.Subscribe(ctx, "broadcast", collect(&b)))
	require.NoError(t, bus.Subscribe(ctx, "master", collect(&other)))

	require.NoError(t, bus.Publish(ctx, "broadcast", domain.Message{Kind: domain.MessageKindAck}))

	assert.Len(t, a, 2)
	assert.Len(t, b, 2)
	assert.Len(t, other, 1)
	assert.Equal(t, "broadcast", a[1].Topic)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	var got []domain.Message

	require.NoError(t, bus.Subscribe(ctx, "w1", collect(&got)))
	cancel()

	require.Eventually(t, func() bool { return bus.Subscribers("w1") == 0 }, time.Second, time.Millisecond)
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	ctx := context.Background()
	var got []domain.Message

	require.NoError(t, bus.Subscribe(ctx, "w1", collect(&got)))
	require.NoError(t, bus.Unsubscribe(ctx, "w1"))
	require.NoError(t, bus.Publish(ctx, "w1", domain.Message{Kind: domain.MessageKindAck}))
	assert.Len(t, got, 1)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(ctx, "w1", domain.Message{}), domain.ErrNotRunning)
	assert.ErrorIs(t, bus.Subscribe(ctx, "w1", collect(&got)), domain.ErrNotRunning)
}
