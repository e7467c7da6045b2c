package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/models"
)

// ManageSignatures is the use case surface over the signature registry.
type ManageSignatures struct {
	registry SignatureRegistry
}

// NewManageSignatures creates the use case.
func NewManageSignatures(registry SignatureRegistry) *ManageSignatures {
	return &ManageSignatures{registry: registry}
}

// Import inserts a batch of signature texts, returning per-entry outcomes.
func (uc *ManageSignatures) Import(ctx context.Context, batch []string) ([]domain.SignatureInsertOutcome, error) {
	return uc.registry.Insert(ctx, batch)
}

// Lookup resolves function selectors and event topics to signature texts.
func (uc *ManageSignatures) Lookup(ctx context.Context, functions, events []string) (*domain.SignatureLookup, error) {
	return uc.registry.Lookup(ctx, functions, events)
}

// Search runs a wildcard search over signature texts.
func (uc *ManageSignatures) Search(ctx context.Context, pattern string, filterCanonical bool) (*domain.SignatureLookup, error) {
	return uc.registry.Search(ctx, pattern, filterCanonical)
}

// Stats reads the materialized statistics view, refreshing it first when
// asked.
func (uc *ManageSignatures) Stats(ctx context.Context, refresh bool) (*models.SignatureStats, error) {
	if refresh {
		if err := uc.registry.RefreshStats(ctx); err != nil {
			return nil, err
		}
	}
	return uc.registry.Stats(ctx)
}
