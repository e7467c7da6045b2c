package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// VerifyFromExplorerParams contains parameters for an explorer-seeded
// verification.
type VerifyFromExplorerParams struct {
	Request *domain.ExplorerRequest
	Async   bool
}

// VerifyFromExplorer is the use case for importing verified sources from a
// block explorer and verifying them locally.
type VerifyFromExplorer struct {
	importer ExplorerImporter
	engine   VerificationEngine
	store    VerificationStore
	pool     WorkerPool
}

// NewVerifyFromExplorer creates the use case.
func NewVerifyFromExplorer(importer ExplorerImporter, engine VerificationEngine, store VerificationStore, pool WorkerPool) *VerifyFromExplorer {
	return &VerifyFromExplorer{importer: importer, engine: engine, store: store, pool: pool}
}

// Run imports the explorer result and verifies it. The asynchronous path
// defers the import itself to the worker.
func (uc *VerifyFromExplorer) Run(ctx context.Context, params VerifyFromExplorerParams) (*VerifyFromJSONInputResult, error) {
	if params.Async {
		jobID, err := uc.pool.SubmitExplorer(ctx, params.Request)
		if err != nil {
			return nil, err
		}
		return &VerifyFromJSONInputResult{JobID: jobID}, nil
	}

	imported, err := uc.importer.Fetch(ctx, params.Request.ChainID, params.Request.Address.Hex(), params.Request.APIKey)
	if err != nil {
		return nil, err
	}
	export, err := uc.engine.VerifyFromJSONInput(ctx, &domain.JSONInputRequest{
		ChainID:         params.Request.ChainID,
		Address:         params.Request.Address,
		Language:        imported.Language,
		CompilerVersion: imported.CompilerVersion,
		Input:           imported.JSONInput,
		Target: domain.CompilationTarget{
			Path: imported.ContractPath,
			Name: imported.ContractName,
		},
	})
	if err != nil {
		return nil, err
	}
	stored, err := uc.store.StoreVerification(ctx, export)
	if err != nil {
		return nil, err
	}
	return &VerifyFromJSONInputResult{Export: export, Stored: stored}, nil
}
