package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/scaleout/pkg/adapters/tracker/memory"
	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

func execute(t *testing.T, tracker *memory.Tracker, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context, *options) (ports.TrackerAdmin, func() error, error) {
		return tracker, func() error { return nil }, nil
	}

	root := NewRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAssign(t *testing.T) {
	tracker := memory.NewTracker()

	out, err := execute(t, tracker, "assign", "node-a-1", "--payload", `{"image":"alpine"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "assigned job to node-a-1")

	job, err := tracker.JobFor(context.Background(), "node-a-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `{"image":"alpine"}`, string(job.Payload))
}

func TestAssignFromFile(t *testing.T) {
	tracker := memory.NewTracker()
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prompt":"hi"}`), 0o600))

	_, err := execute(t, tracker, "assign", "node-a-1", "-f", path)
	require.NoError(t, err)

	job, err := tracker.JobFor(context.Background(), "node-a-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(job.Payload))
}

func TestAssignRejectsBadPayload(t *testing.T) {
	tracker := memory.NewTracker()

	_, err := execute(t, tracker, "assign", "node-a-1", "--payload", `{nope`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	_, err = execute(t, tracker, "assign", "node-a-1")
	require.Error(t, err)

	job, err := tracker.JobFor(context.Background(), "node-a-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEnableDisable(t *testing.T) {
	tracker := memory.NewTracker()
	ctx := context.Background()

	_, err := execute(t, tracker, "disable", "node-a-1")
	require.NoError(t, err)
	enabled, err := tracker.WorkerEnabled(ctx, "node-a-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	_, err = execute(t, tracker, "enable", "node-a-1")
	require.NoError(t, err)
	enabled, err = tracker.WorkerEnabled(ctx, "node-a-1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestReplicateAndCurrent(t *testing.T) {
	tracker := memory.NewTracker()
	ctx := context.Background()

	_, err := execute(t, tracker, "set-current", "--payload", `{"n":7}`, "--owner", "node-a-1")
	require.NoError(t, err)
	_, err = execute(t, tracker, "replicate", "node-b-2", "node-c-3")
	require.NoError(t, err)

	cur, err := tracker.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "node-a-1", cur.WorkerID)

	for _, id := range []string{"node-b-2", "node-c-3"} {
		flagged, err := tracker.NeedsReplicate(ctx, id)
		require.NoError(t, err)
		assert.True(t, flagged, id)
	}
}

func TestFinish(t *testing.T) {
	tracker := memory.NewTracker()

	_, err := execute(t, tracker, "finish")
	require.NoError(t, err)

	done, err := tracker.IsDone(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWorkersAndUpdates(t *testing.T) {
	tracker := memory.NewTracker()
	ctx := context.Background()
	require.NoError(t, tracker.AddWorker(ctx, "node-b-2"))
	require.NoError(t, tracker.AddWorker(ctx, "node-a-1"))
	require.NoError(t, tracker.AddUpdate(ctx, "node-a-1", domain.NewJob("node-a-1", json.RawMessage(`1`))))
	require.NoError(t, tracker.AddUpdate(ctx, "node-b-2", domain.NewJob("node-b-2", json.RawMessage(`2`))))

	out, err := execute(t, tracker, "workers")
	require.NoError(t, err)
	assert.Equal(t, "node-a-1\nnode-b-2\n", out)

	out, err = execute(t, tracker, "updates")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first domain.Update
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "node-a-1", first.WorkerID)
}

func TestClosedTrackerSurfacesError(t *testing.T) {
	tracker := memory.NewTracker()
	require.NoError(t, tracker.Close())

	_, err := execute(t, tracker, "workers")
	assert.ErrorIs(t, err, domain.ErrTrackerClosed)
}
