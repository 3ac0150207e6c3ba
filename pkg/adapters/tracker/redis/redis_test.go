package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/pkg/adapters/tracker/trackertest"
	"github.com/aescanero/scaleout/pkg/domain"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client, zaptest.NewLogger(t)), mr, client
}

func TestTracker(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) trackertest.Tracker {
		tr, _, _ := newTestTracker(t)
		return tr
	})
}

func TestPlaceholderDropsPayload(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.AssignJob(ctx, domain.NewJob("w1", []byte(`{"secret":true}`))))
	require.NoError(t, tr.UpdateJob(ctx, domain.NewPlaceholder("w1")))

	stored, err := mr.Get(jobKey("w1"))
	require.NoError(t, err)
	assert.NotContains(t, stored, "secret")
}

func TestLastSeen(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	seen, err := tr.LastSeen(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, seen.IsZero())

	require.NoError(t, tr.AddWorker(ctx, "w1"))
	seen, err = tr.LastSeen(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, seen.IsZero())
}

func TestClosed(t *testing.T) {
	tr, _, client := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, client.Close())
	assert.ErrorIs(t, tr.RemoveWorker(ctx, "w1"), domain.ErrTrackerClosed)

	require.NoError(t, tr.Close())
	_, err := tr.IsDone(ctx)
	assert.ErrorIs(t, err, domain.ErrTrackerClosed)
}
