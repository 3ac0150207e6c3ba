package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Tracker implements ports.JobTracker and ports.TrackerAdmin in memory.
// Jobs are cloned on the way in and out.
type Tracker struct {
	mu        sync.RWMutex
	closed    bool
	done      bool
	available map[string]bool
	workers   map[string]time.Time
	disabled  map[string]bool
	replicate map[string]bool
	jobs      map[string]*domain.Job
	current   *domain.Job
	updates   []domain.Update
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		available: make(map[string]bool),
		workers:   make(map[string]time.Time),
		disabled:  make(map[string]bool),
		replicate: make(map[string]bool),
		jobs:      make(map[string]*domain.Job),
	}
}

func (t *Tracker) AvailableForWork(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.available[id] = true
	return nil
}

func (t *Tracker) AddWorker(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.workers[id] = time.Now()
	return nil
}

func (t *Tracker) RemoveWorker(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	delete(t.workers, id)
	delete(t.available, id)
	return nil
}

func (t *Tracker) IsDone(context.Context) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false, domain.ErrTrackerClosed
	}
	return t.done, nil
}

func (t *Tracker) NeedsReplicate(_ context.Context, id domain.WorkerIdentity) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false, domain.ErrTrackerClosed
	}
	return t.replicate[id], nil
}

func (t *Tracker) DoneReplicating(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	delete(t.replicate, id)
	return nil
}

func (t *Tracker) JobFor(_ context.Context, id domain.WorkerIdentity) (*domain.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, domain.ErrTrackerClosed
	}
	return t.jobs[id].Clone(), nil
}

func (t *Tracker) WorkerEnabled(_ context.Context, id domain.WorkerIdentity) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false, domain.ErrTrackerClosed
	}
	return !t.disabled[id], nil
}

func (t *Tracker) ClearJob(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	delete(t.jobs, id)
	return nil
}

func (t *Tracker) UpdateJob(_ context.Context, job *domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.jobs[job.WorkerID] = job.Clone()
	return nil
}

func (t *Tracker) GetCurrent(context.Context) (*domain.Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, domain.ErrTrackerClosed
	}
	return t.current.Clone(), nil
}

func (t *Tracker) AddUpdate(_ context.Context, id domain.WorkerIdentity, job *domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.updates = append(t.updates, domain.Update{WorkerID: id, Job: job.Clone(), ReportedAt: time.Now()})
	return nil
}

// AssignJob stores a job for its owner. Same effect as UpdateJob.
func (t *Tracker) AssignJob(ctx context.Context, job *domain.Job) error {
	return t.UpdateJob(ctx, job)
}

func (t *Tracker) SetWorkerEnabled(_ context.Context, id domain.WorkerIdentity, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	if enabled {
		delete(t.disabled, id)
	} else {
		t.disabled[id] = true
	}
	return nil
}

func (t *Tracker) FlagReplicate(_ context.Context, id domain.WorkerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.replicate[id] = true
	return nil
}

func (t *Tracker) SetCurrent(_ context.Context, job *domain.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.current = job.Clone()
	return nil
}

func (t *Tracker) Finish(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTrackerClosed
	}
	t.done = true
	return nil
}

// Workers returns live workers sorted by identity
func (t *Tracker) Workers(context.Context) ([]domain.WorkerIdentity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, domain.ErrTrackerClosed
	}
	ids := make([]domain.WorkerIdentity, 0, len(t.workers))
	for id := range t.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *Tracker) Updates(context.Context) ([]domain.Update, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, domain.ErrTrackerClosed
	}
	out := make([]domain.Update, len(t.updates))
	for i, u := range t.updates {
		out[i] = domain.Update{WorkerID: u.WorkerID, Job: u.Job.Clone(), ReportedAt: u.ReportedAt}
	}
	return out, nil
}

// Close shuts the tracker down. Every later call fails with
// ErrTrackerClosed.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
