package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Tick runs one reconciliation pass against the tracker. Every step is
// idempotent: with no tracker change in between, a second tick only
// refreshes liveness.
func (n *Node) Tick(ctx context.Context) error {
	n.lastTick.Store(time.Now().UnixNano())
	n.metrics.RecordTick()

	done, err := n.tracker.IsDone(ctx)
	if err != nil {
		return fmt.Errorf("failed to query tracker state: %w", err)
	}

	if !done {
		if err := n.tracker.AddWorker(ctx, n.id); err != nil {
			return fmt.Errorf("failed to refresh worker liveness: %w", err)
		}
		// replication runs before the claim check so a replicated job is
		// visible to it in the same tick
		if err := n.replicateIfNeeded(ctx); err != nil {
			return err
		}
	}

	if err := n.CheckJobAvailable(ctx); err != nil {
		return err
	}

	assigned, err := n.tracker.JobFor(ctx, n.id)
	if err != nil {
		return fmt.Errorf("failed to fetch assignment: %w", err)
	}

	switch {
	case n.currentJob != nil && !n.busy.Load() && assigned != nil:
		return n.executeCurrent(ctx)
	case n.currentJob == nil || (!n.busy.Load() && assigned == nil):
		return n.clearStale(ctx, assigned)
	}
	return nil
}

// CheckJobAvailable resolves the tracker's assignment for this worker and
// claims it when nothing is cached locally.
func (n *Node) CheckJobAvailable(ctx context.Context) error {
	j, err := n.tracker.JobFor(ctx, n.id)
	if err != nil {
		return fmt.Errorf("failed to fetch assignment: %w", err)
	}

	enabled := false
	if j != nil {
		if enabled, err = n.tracker.WorkerEnabled(ctx, n.id); err != nil {
			return fmt.Errorf("failed to check worker enabled: %w", err)
		}
	}

	if j == nil || !enabled {
		if !n.busy.Load() && j != nil {
			if err := n.tracker.ClearJob(ctx, n.id); err != nil {
				return fmt.Errorf("failed to clear stale job: %w", err)
			}
			n.metrics.RecordStaleCleared()
			n.logger.Info("clearing stale job", zap.Bool("enabled", enabled))
		}
		return nil
	}

	if err := n.replicateIfNeeded(ctx); err != nil {
		return err
	}

	if n.currentJob == nil {
		n.logger.Info("assigning job")
		n.setCurrentJob(j)
		// the payload now lives only in this worker
		if err := n.tracker.UpdateJob(ctx, domain.NewPlaceholder(n.id)); err != nil {
			return fmt.Errorf("failed to write claim placeholder: %w", err)
		}
	}
	return nil
}

// replicateIfNeeded installs the tracker's current job when replication
// is flagged. A nil snapshot means nothing to replicate yet and leaves
// the flag set.
func (n *Node) replicateIfNeeded(ctx context.Context) error {
	needs, err := n.tracker.NeedsReplicate(ctx, n.id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReplication, err)
	}
	if !needs {
		return nil
	}

	n.logger.Info("updating worker")
	current, err := n.tracker.GetCurrent(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch current job: %v", domain.ErrReplication, err)
	}
	if current == nil {
		return nil
	}

	n.setCurrentJob(current)
	if err := n.tracker.DoneReplicating(ctx, n.id); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReplication, err)
	}
	n.metrics.RecordReplication()
	return nil
}

// executeCurrent runs the cached job, reports it and releases the
// tracker slot.
func (n *Node) executeCurrent(ctx context.Context) error {
	job := n.currentJob
	n.logger.Info("confirmation on work", zap.String("owner", job.WorkerID))

	if !job.HasPayload() {
		return fmt.Errorf("work for worker %s: %w", n.id, domain.ErrMissingPayload)
	}

	if err := n.perform(ctx, job); err != nil {
		return err
	}

	if err := n.tracker.AddUpdate(ctx, n.id, job); err != nil {
		return fmt.Errorf("failed to report update: %w", err)
	}
	n.setCurrentJob(nil)

	if err := n.tracker.ClearJob(ctx, n.id); err != nil {
		return fmt.Errorf("failed to release assignment: %w", err)
	}
	return nil
}

// clearStale releases a tracker entry that no longer matches local
// state. The local job is kept; the next tick revalidates it.
func (n *Node) clearStale(ctx context.Context, assigned *domain.Job) error {
	if assigned == nil {
		return nil
	}
	if err := n.tracker.ClearJob(ctx, n.id); err != nil {
		return fmt.Errorf("failed to clear stale job: %w", err)
	}
	n.metrics.RecordStaleCleared()
	n.logger.Info("clearing stale job")
	return nil
}

// perform executes a job with the busy flag held. Both the tick path and
// the push path go through here.
func (n *Node) perform(ctx context.Context, job *domain.Job) error {
	if !n.busy.CompareAndSwap(false, true) {
		return domain.ErrBusy
	}
	n.metrics.SetBusy(true)
	defer func() {
		n.busy.Store(false)
		n.metrics.SetBusy(false)
	}()

	if n.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.execTimeout)
		defer cancel()
	}

	start := time.Now()
	err := n.performer.Perform(ctx, job)
	duration := time.Since(start)

	if err != nil {
		n.metrics.RecordJobExecuted("failed", duration)
		return fmt.Errorf("failed to perform job: %w", err)
	}

	n.metrics.RecordJobExecuted("completed", duration)
	n.logger.Info("job executed", zap.Duration("duration", duration))
	return nil
}
