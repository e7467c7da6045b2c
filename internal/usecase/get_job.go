package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// GetJob is the use case for reading a verification job's state.
type GetJob struct {
	jobs JobStore
}

// NewGetJob creates the use case.
func NewGetJob(jobs JobStore) *GetJob {
	return &GetJob{jobs: jobs}
}

// Run fetches the job by id.
func (uc *GetJob) Run(ctx context.Context, jobID string) (*domain.VerificationJob, error) {
	return uc.jobs.GetJob(ctx, jobID)
}
