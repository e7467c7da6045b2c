package usecase

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// GetMatchParams contains parameters for a match lookup.
type GetMatchParams struct {
	ChainID    uint64
	Address    common.Address
	Properties []domain.Property
}

// GetMatch is the use case for projecting a stored verification.
type GetMatch struct {
	store VerificationStore
}

// NewGetMatch creates the use case.
func NewGetMatch(store VerificationStore) *GetMatch {
	return &GetMatch{store: store}
}

// Run returns the requested properties of the best match for the address.
// An empty property list selects the whole enumerated set.
func (uc *GetMatch) Run(ctx context.Context, params GetMatchParams) (map[string]any, error) {
	props := params.Properties
	if len(props) == 0 {
		props = domain.AllProperties
	}
	return uc.store.LookupByChainAndAddress(ctx, params.ChainID, params.Address, props)
}
