package usecase

import (
	"context"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// PaginateMatchesParams contains parameters for listing matches.
type PaginateMatchesParams struct {
	ChainID    uint64
	Filter     domain.MatchFilter
	AfterID    int64
	Limit      int
	Descending bool
}

// PaginateMatches is the use case for keyset-paginated match listings.
type PaginateMatches struct {
	store VerificationStore
}

// NewPaginateMatches creates the use case.
func NewPaginateMatches(store VerificationStore) *PaginateMatches {
	return &PaginateMatches{store: store}
}

// Run returns one page of match summaries.
func (uc *PaginateMatches) Run(ctx context.Context, params PaginateMatchesParams) ([]domain.MatchSummary, error) {
	filter := params.Filter
	if filter == "" {
		filter = domain.MatchFilterAny
	}
	return uc.store.PaginateMatches(ctx, params.ChainID, filter, params.AfterID, params.Limit, params.Descending)
}
