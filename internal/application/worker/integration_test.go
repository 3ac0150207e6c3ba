package worker_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/scaleout/internal/application/worker"
	"github.com/aescanero/scaleout/pkg/adapters/events/memory"
	trackermemory "github.com/aescanero/scaleout/pkg/adapters/tracker/memory"
	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

func TestWorkerEndToEnd(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tracker := trackermemory.NewTracker()
	bus := memory.NewBus(logger)

	var performed atomic.Int32
	performer := ports.PerformerFunc(func(_ context.Context, job *domain.Job) error {
		performed.Add(1)
		job.Result = json.RawMessage(`"ok"`)
		return nil
	})

	node := worker.NewNode(worker.Config{
		Host:              "it",
		MasterTopic:       "master",
		HeartbeatInterval: 10 * time.Millisecond,
	}, worker.Deps{
		Tracker:   tracker,
		Bus:       bus,
		Performer: performer,
		Logger:    logger,
	})
	sup := worker.NewSupervisor(node, worker.SupervisorConfig{})
	id := node.ID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == worker.StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	workers, err := tracker.Workers(ctx)
	require.NoError(t, err)
	assert.Contains(t, workers, id)

	// pulled through the tracker
	require.NoError(t, tracker.AssignJob(ctx, domain.NewJob(id, json.RawMessage(`{"n":1}`))))

	require.Eventually(t, func() bool {
		updates, err := tracker.Updates(ctx)
		return err == nil && len(updates) == 1
	}, 2*time.Second, 5*time.Millisecond)

	updates, err := tracker.Updates(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, updates[0].WorkerID)
	assert.JSONEq(t, `"ok"`, string(updates[0].Job.Result))

	require.Eventually(t, func() bool {
		job, err := tracker.JobFor(ctx, id)
		return err == nil && job == nil
	}, 2*time.Second, 5*time.Millisecond)

	// pushed over the bus
	require.NoError(t, bus.Publish(ctx, id, domain.Message{
		Kind: domain.MessageKindJob,
		Job:  domain.NewJob(id, json.RawMessage(`{"n":2}`)),
	}))
	require.Eventually(t, func() bool { return performed.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Equal(t, worker.StateStopped, sup.State())
	workers, err = tracker.Workers(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, workers, id)
	assert.Zero(t, sup.Restarts())
}

func TestWorkerStartsWithSingleSlotMailbox(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tracker := trackermemory.NewTracker()
	bus := memory.NewBus(logger)

	var performed atomic.Int32
	node := worker.NewNode(worker.Config{
		Host:              "tiny",
		MasterTopic:       "master",
		HeartbeatInterval: 10 * time.Millisecond,
	}, worker.Deps{
		Tracker: tracker,
		Bus:     bus,
		Performer: ports.PerformerFunc(func(context.Context, *domain.Job) error {
			performed.Add(1)
			return nil
		}),
		Logger: logger,
	})
	// every subscribe ack arrives during Start
	sup := worker.NewSupervisor(node, worker.SupervisorConfig{MailboxSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.State() == worker.StateRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Deliver(ctx, domain.NewJob(node.ID(), json.RawMessage(`{"n":1}`))))
	require.Eventually(t, func() bool { return performed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Zero(t, sup.Restarts())
}
