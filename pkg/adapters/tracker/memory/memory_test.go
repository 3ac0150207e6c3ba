package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/scaleout/pkg/adapters/tracker/trackertest"
	"github.com/aescanero/scaleout/pkg/domain"
)

func TestTracker(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) trackertest.Tracker { return NewTracker() })
}

func TestJobsAreCopied(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()

	job := domain.NewJob("w1", json.RawMessage(`"a"`))
	require.NoError(t, tr.AssignJob(ctx, job))
	job.Payload[1] = 'b'

	got, err := tr.JobFor(ctx, "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `"a"`, string(got.Payload))
}

func TestClosedTracker(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.RemoveWorker(ctx, "w1"), domain.ErrTrackerClosed)
	_, err := tr.JobFor(ctx, "w1")
	assert.ErrorIs(t, err, domain.ErrTrackerClosed)
}
