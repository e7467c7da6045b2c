package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
)

type stubEngine struct {
	export *domain.VerificationExport
	err    error
	calls  int
}

func (s *stubEngine) VerifyFromJSONInput(context.Context, *domain.JSONInputRequest) (*domain.VerificationExport, error) {
	s.calls++
	return s.export, s.err
}

func (s *stubEngine) VerifyFromMetadata(context.Context, *domain.MetadataRequest) (*domain.VerificationExport, error) {
	s.calls++
	return s.export, s.err
}

type stubStore struct {
	stored *domain.StoredVerification
	err    error
	calls  int
}

func (s *stubStore) StoreVerification(context.Context, *domain.VerificationExport) (*domain.StoredVerification, error) {
	s.calls++
	return s.stored, s.err
}

func (s *stubStore) LookupByChainAndAddress(context.Context, uint64, common.Address, []domain.Property) (map[string]any, error) {
	return map[string]any{"runtime_match": "perfect"}, nil
}

func (s *stubStore) PaginateMatches(context.Context, uint64, domain.MatchFilter, int64, int, bool) ([]domain.MatchSummary, error) {
	return []domain.MatchSummary{{ID: 1}}, nil
}

func (s *stubStore) DeleteMatch(context.Context, uint64, common.Address) error { return nil }
func (s *stubStore) OrphanGC(context.Context) error                           { return nil }

type stubPool struct {
	jobID   string
	submits int
}

func (s *stubPool) SubmitJSONInput(context.Context, *domain.JSONInputRequest) (string, error) {
	s.submits++
	return s.jobID, nil
}

func (s *stubPool) SubmitMetadata(context.Context, *domain.MetadataRequest) (string, error) {
	s.submits++
	return s.jobID, nil
}

func (s *stubPool) SubmitExplorer(context.Context, *domain.ExplorerRequest) (string, error) {
	s.submits++
	return s.jobID, nil
}

type stubJobs struct {
	job    *domain.VerificationJob
	pruned int64
}

func (s *stubJobs) InsertJob(context.Context, *domain.VerificationJob) error { return nil }
func (s *stubJobs) CompleteJob(context.Context, string, int64, time.Duration) error {
	return nil
}
func (s *stubJobs) FailJob(context.Context, string, *domain.JobError) error { return nil }

func (s *stubJobs) GetJob(context.Context, string) (*domain.VerificationJob, error) {
	if s.job == nil {
		return nil, domain.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubJobs) StoreEphemeral(context.Context, *domain.VerificationJobEphemeral) error {
	return nil
}

func (s *stubJobs) PruneEphemeral(context.Context, time.Time) (int64, error) {
	return s.pruned, nil
}

func TestVerifyFromJSONInputSyncPersists(t *testing.T) {
	engine := &stubEngine{export: &domain.VerificationExport{ChainID: 1}}
	store := &stubStore{stored: &domain.StoredVerification{VerifiedContractID: 42}}
	pool := &stubPool{jobID: "job-1"}
	uc := NewVerifyFromJSONInput(engine, store, pool)

	res, err := uc.Run(context.Background(), VerifyFromJSONInputParams{Request: &domain.JSONInputRequest{ChainID: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Stored.VerifiedContractID)
	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, 1, store.calls)
	assert.Zero(t, pool.submits)
}

func TestVerifyFromJSONInputAsyncDelegatesToPool(t *testing.T) {
	engine := &stubEngine{}
	store := &stubStore{}
	pool := &stubPool{jobID: "job-2"}
	uc := NewVerifyFromJSONInput(engine, store, pool)

	res, err := uc.Run(context.Background(), VerifyFromJSONInputParams{
		Request: &domain.JSONInputRequest{ChainID: 1},
		Async:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-2", res.JobID)
	assert.Nil(t, res.Export)
	assert.Zero(t, engine.calls)
	assert.Equal(t, 1, pool.submits)
}

func TestVerifyFromJSONInputPropagatesEngineError(t *testing.T) {
	engine := &stubEngine{err: domain.NewError(domain.ErrBytecodeMismatch, nil)}
	uc := NewVerifyFromJSONInput(engine, &stubStore{}, &stubPool{})

	_, err := uc.Run(context.Background(), VerifyFromJSONInputParams{Request: &domain.JSONInputRequest{}})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrBytecodeMismatch))
}

func TestGetMatchDefaultsToAllProperties(t *testing.T) {
	uc := NewGetMatch(&stubStore{})

	got, err := uc.Run(context.Background(), GetMatchParams{ChainID: 1})
	require.NoError(t, err)
	assert.Equal(t, "perfect", got["runtime_match"])
}

func TestMaintainStoragePrunes(t *testing.T) {
	uc := NewMaintainStorage(&stubStore{}, &stubJobs{pruned: 3})

	n, err := uc.Run(context.Background(), MaintainStorageParams{EphemeralRetention: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
