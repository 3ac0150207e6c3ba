package ports

import (
	"context"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Performer executes a job's payload synchronously. It may record output
// in job.Result.
type Performer interface {
	Perform(ctx context.Context, job *domain.Job) error
}

// PerformerFunc adapts a function to Performer.
type PerformerFunc func(ctx context.Context, job *domain.Job) error

// Perform calls f(ctx, job).
func (f PerformerFunc) Perform(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}
