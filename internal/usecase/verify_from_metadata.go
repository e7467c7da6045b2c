package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// VerifyFromMetadataParams contains parameters for a metadata-driven
// verification.
type VerifyFromMetadataParams struct {
	Request *domain.MetadataRequest
	Async   bool
}

// VerifyFromMetadata is the use case for verifying a contract from a solc
// metadata document plus source files.
type VerifyFromMetadata struct {
	engine VerificationEngine
	store  VerificationStore
	pool   WorkerPool
}

// NewVerifyFromMetadata creates the use case.
func NewVerifyFromMetadata(engine VerificationEngine, store VerificationStore, pool WorkerPool) *VerifyFromMetadata {
	return &VerifyFromMetadata{engine: engine, store: store, pool: pool}
}

// Run executes the verification, synchronously or via the pool.
func (uc *VerifyFromMetadata) Run(ctx context.Context, params VerifyFromMetadataParams) (*VerifyFromJSONInputResult, error) {
	if params.Async {
		jobID, err := uc.pool.SubmitMetadata(ctx, params.Request)
		if err != nil {
			return nil, err
		}
		return &VerifyFromJSONInputResult{JobID: jobID}, nil
	}

	export, err := uc.engine.VerifyFromMetadata(ctx, params.Request)
	if err != nil {
		return nil, err
	}
	stored, err := uc.store.StoreVerification(ctx, export)
	if err != nil {
		return nil, err
	}
	return &VerifyFromJSONInputResult{Export: export, Stored: stored}, nil
}
