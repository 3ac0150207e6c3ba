package ports

import (
	"context"

	"github.com/aescanero/scaleout/pkg/domain"
)

// JobTracker is the shared, eventually-consistent view of job assignment
// and worker liveness. Implementations must provide get/set atomicity per
// worker identity.
type JobTracker interface {
	// AvailableForWork marks the worker as able to receive assignments.
	AvailableForWork(ctx context.Context, id domain.WorkerIdentity) error

	// AddWorker registers or refreshes a worker's liveness.
	AddWorker(ctx context.Context, id domain.WorkerIdentity) error

	// RemoveWorker drops the worker. Returns domain.ErrTrackerClosed when
	// the tracker has already been shut down.
	RemoveWorker(ctx context.Context, id domain.WorkerIdentity) error

	// IsDone reports whether all work is globally finished.
	IsDone(ctx context.Context) (bool, error)

	NeedsReplicate(ctx context.Context, id domain.WorkerIdentity) (bool, error)
	DoneReplicating(ctx context.Context, id domain.WorkerIdentity) error

	// JobFor returns the job assigned to the worker, or nil.
	JobFor(ctx context.Context, id domain.WorkerIdentity) (*domain.Job, error)

	WorkerEnabled(ctx context.Context, id domain.WorkerIdentity) (bool, error)

	// ClearJob removes the worker's assignment.
	ClearJob(ctx context.Context, id domain.WorkerIdentity) error

	// UpdateJob stores the job under its owner's identity.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// GetCurrent returns the canonical current job snapshot, or nil.
	GetCurrent(ctx context.Context) (*domain.Job, error)

	// AddUpdate reports the outcome of a job.
	AddUpdate(ctx context.Context, id domain.WorkerIdentity, job *domain.Job) error
}

// TrackerAdmin holds the master-side operations used to drive a tracker.
// Worker nodes never call these.
type TrackerAdmin interface {
	AssignJob(ctx context.Context, job *domain.Job) error
	SetWorkerEnabled(ctx context.Context, id domain.WorkerIdentity, enabled bool) error
	FlagReplicate(ctx context.Context, id domain.WorkerIdentity) error
	SetCurrent(ctx context.Context, job *domain.Job) error
	Finish(ctx context.Context) error
	Workers(ctx context.Context) ([]domain.WorkerIdentity, error)
	Updates(ctx context.Context) ([]domain.Update, error)
}
