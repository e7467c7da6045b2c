package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// VerifyFromJSONInputParams contains parameters for a standard-JSON
// verification.
type VerifyFromJSONInputParams struct {
	Request *domain.JSONInputRequest

	// Async enqueues the verification on the worker pool instead of
	// running it on the caller.
	Async bool
}

// VerifyFromJSONInputResult is the outcome of a synchronous verification,
// or the job id of an asynchronous one.
type VerifyFromJSONInputResult struct {
	Export *domain.VerificationExport
	Stored *domain.StoredVerification
	JobID  string
}

// VerifyFromJSONInput is the use case for verifying a contract against an
// explicit standard JSON input.
type VerifyFromJSONInput struct {
	engine VerificationEngine
	store  VerificationStore
	pool   WorkerPool
}

// NewVerifyFromJSONInput creates the use case.
func NewVerifyFromJSONInput(engine VerificationEngine, store VerificationStore, pool WorkerPool) *VerifyFromJSONInput {
	return &VerifyFromJSONInput{engine: engine, store: store, pool: pool}
}

// Run executes the verification. Synchronous runs persist the result before
// returning; asynchronous runs return as soon as the job row exists.
func (uc *VerifyFromJSONInput) Run(ctx context.Context, params VerifyFromJSONInputParams) (*VerifyFromJSONInputResult, error) {
	if params.Async {
		jobID, err := uc.pool.SubmitJSONInput(ctx, params.Request)
		if err != nil {
			return nil, err
		}
		return &VerifyFromJSONInputResult{JobID: jobID}, nil
	}

	export, err := uc.engine.VerifyFromJSONInput(ctx, params.Request)
	if err != nil {
		return nil, err
	}
	stored, err := uc.store.StoreVerification(ctx, export)
	if err != nil {
		return nil, err
	}
	return &VerifyFromJSONInputResult{Export: export, Stored: stored}, nil
}
