// Package trackertest holds behaviour tests shared by every tracker
// backend.
package trackertest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

// Tracker is what a backend under test must provide
type Tracker interface {
	ports.JobTracker
	ports.TrackerAdmin
}

// Run exercises a backend. newTracker must return an empty tracker.
func Run(t *testing.T, newTracker func(t *testing.T) Tracker) {
	t.Run("Assignment", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		job, err := tr.JobFor(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, job)

		payload := json.RawMessage(`{"n":1}`)
		require.NoError(t, tr.AssignJob(ctx, domain.NewJob("w1", payload)))

		job, err = tr.JobFor(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "w1", job.WorkerID)
		assert.JSONEq(t, string(payload), string(job.Payload))

		require.NoError(t, tr.UpdateJob(ctx, domain.NewPlaceholder("w1")))
		job, err = tr.JobFor(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.False(t, job.HasPayload())

		require.NoError(t, tr.ClearJob(ctx, "w1"))
		job, err = tr.JobFor(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, job)

		require.NoError(t, tr.ClearJob(ctx, "w1"), "clearing twice is not an error")
	})

	t.Run("Workers", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		require.NoError(t, tr.AvailableForWork(ctx, "w2"))
		require.NoError(t, tr.AddWorker(ctx, "w2"))
		require.NoError(t, tr.AddWorker(ctx, "w1"))
		require.NoError(t, tr.AddWorker(ctx, "w1"))

		ids, err := tr.Workers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.WorkerIdentity{"w1", "w2"}, ids)

		require.NoError(t, tr.RemoveWorker(ctx, "w1"))
		ids, err = tr.Workers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.WorkerIdentity{"w2"}, ids)
	})

	t.Run("Enabled", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		enabled, err := tr.WorkerEnabled(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, enabled)

		require.NoError(t, tr.SetWorkerEnabled(ctx, "w1", false))
		enabled, err = tr.WorkerEnabled(ctx, "w1")
		require.NoError(t, err)
		assert.False(t, enabled)

		require.NoError(t, tr.SetWorkerEnabled(ctx, "w1", true))
		enabled, err = tr.WorkerEnabled(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("Replication", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		needs, err := tr.NeedsReplicate(ctx, "w1")
		require.NoError(t, err)
		assert.False(t, needs)

		current, err := tr.GetCurrent(ctx)
		require.NoError(t, err)
		assert.Nil(t, current)

		require.NoError(t, tr.FlagReplicate(ctx, "w1"))
		require.NoError(t, tr.SetCurrent(ctx, domain.NewJob("w1", json.RawMessage(`"snap"`))))

		needs, err = tr.NeedsReplicate(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, needs)

		current, err = tr.GetCurrent(ctx)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.JSONEq(t, `"snap"`, string(current.Payload))

		require.NoError(t, tr.DoneReplicating(ctx, "w1"))
		needs, err = tr.NeedsReplicate(ctx, "w1")
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("DoneAndUpdates", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		done, err := tr.IsDone(ctx)
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, tr.AddUpdate(ctx, "w1", domain.NewJob("w1", json.RawMessage(`1`))))
		require.NoError(t, tr.AddUpdate(ctx, "w2", domain.NewJob("w2", json.RawMessage(`2`))))

		updates, err := tr.Updates(ctx)
		require.NoError(t, err)
		require.Len(t, updates, 2)
		assert.Equal(t, "w1", updates[0].WorkerID)
		assert.Equal(t, "w2", updates[1].WorkerID)
		assert.JSONEq(t, `2`, string(updates[1].Job.Payload))
		assert.False(t, updates[0].ReportedAt.IsZero())

		require.NoError(t, tr.Finish(ctx))
		done, err = tr.IsDone(ctx)
		require.NoError(t, err)
		assert.True(t, done)
	})
}
