package usecase

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaintainStorageParams contains parameters for storage maintenance.
type MaintainStorageParams struct {
	// EphemeralRetention bounds how long job payloads are kept.
	EphemeralRetention time.Duration
}

// MaintainStorage is the use case behind the gc command: global orphan
// collection plus ephemeral payload pruning.
type MaintainStorage struct {
	store VerificationStore
	jobs  JobStore
}

// NewMaintainStorage creates the use case.
func NewMaintainStorage(store VerificationStore, jobs JobStore) *MaintainStorage {
	return &MaintainStorage{store: store, jobs: jobs}
}

// Run collects orphans and prunes expired ephemeral payloads, returning the
// number of pruned payload rows.
func (uc *MaintainStorage) Run(ctx context.Context, params MaintainStorageParams) (int64, error) {
	if err := uc.store.OrphanGC(ctx); err != nil {
		return 0, err
	}
	retention := params.EphemeralRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return uc.jobs.PruneEphemeral(ctx, time.Now().UTC().Add(-retention))
}

// DeleteMatch removes one stored match and everything only it references.
func (uc *MaintainStorage) DeleteMatch(ctx context.Context, chainID uint64, address common.Address) error {
	return uc.store.DeleteMatch(ctx, chainID, address)
}
