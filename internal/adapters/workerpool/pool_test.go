package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

type fakeEngine struct {
	export *domain.VerificationExport
	err    error
}

func (f *fakeEngine) VerifyFromJSONInput(context.Context, *domain.JSONInputRequest) (*domain.VerificationExport, error) {
	return f.export, f.err
}

func (f *fakeEngine) VerifyFromMetadata(context.Context, *domain.MetadataRequest) (*domain.VerificationExport, error) {
	return f.export, f.err
}

type fakeImporter struct {
	imported *domain.ImportedContract
	err      error
	gotKey   string
}

func (f *fakeImporter) Fetch(_ context.Context, _ uint64, _ string, apiKey string) (*domain.ImportedContract, error) {
	f.gotKey = apiKey
	return f.imported, f.err
}

type fakeStore struct {
	stored *domain.StoredVerification
	err    error
	calls  int
}

func (f *fakeStore) StoreVerification(context.Context, *domain.VerificationExport) (*domain.StoredVerification, error) {
	f.calls++
	return f.stored, f.err
}

func (f *fakeStore) LookupByChainAndAddress(context.Context, uint64, common.Address, []domain.Property) (map[string]any, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeStore) PaginateMatches(context.Context, uint64, domain.MatchFilter, int64, int, bool) ([]domain.MatchSummary, error) {
	return nil, nil
}

func (f *fakeStore) DeleteMatch(context.Context, uint64, common.Address) error { return nil }
func (f *fakeStore) OrphanGC(context.Context) error                           { return nil }

type fakeJobs struct {
	mu        sync.Mutex
	inserted  []*domain.VerificationJob
	completed []string
	failed    map[string]*domain.JobError
	ephemeral []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{failed: map[string]*domain.JobError{}}
}

func (f *fakeJobs) InsertJob(_ context.Context, job *domain.VerificationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, job)
	return nil
}

func (f *fakeJobs) CompleteJob(_ context.Context, jobID string, _ int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeJobs) FailJob(_ context.Context, jobID string, jobErr *domain.JobError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = jobErr
	return nil
}

func (f *fakeJobs) GetJob(context.Context, string) (*domain.VerificationJob, error) {
	return nil, domain.ErrJobNotFound
}

func (f *fakeJobs) StoreEphemeral(_ context.Context, e *domain.VerificationJobEphemeral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemeral = append(f.ephemeral, e.ID)
	return nil
}

func (f *fakeJobs) PruneEphemeral(context.Context, time.Time) (int64, error) { return 0, nil }

func testExport() *domain.VerificationExport {
	return &domain.VerificationExport{
		ChainID: 1,
		Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Status:  domain.VerificationStatus{RuntimeMatch: domain.MatchPerfect},
	}
}

func newTestPool(engine *fakeEngine, importer *fakeImporter, store *fakeStore, jobs *fakeJobs) *Pool {
	cfg := &config.RuntimeConfig{Workers: 2, EtherscanAPIKey: "DEFAULTKEY"}
	return NewPool(cfg, engine, importer, store, jobs, slog.Default())
}

func TestSubmitInsertsJobBeforeWork(t *testing.T) {
	jobs := newFakeJobs()
	pool := newTestPool(&fakeEngine{export: testExport()}, nil, &fakeStore{stored: &domain.StoredVerification{VerifiedContractID: 7}}, jobs)

	jobID, err := pool.SubmitJSONInput(context.Background(), &domain.JSONInputRequest{ChainID: 1})
	require.NoError(t, err)
	require.Len(t, jobs.inserted, 1)
	assert.Equal(t, jobID, jobs.inserted[0].ID)
	assert.Equal(t, "/verify/json_input", jobs.inserted[0].VerificationEndpoint)
	assert.True(t, jobs.inserted[0].IsPending())
}

func TestPoolCompletesSuccessfulJob(t *testing.T) {
	jobs := newFakeJobs()
	store := &fakeStore{stored: &domain.StoredVerification{VerifiedContractID: 7}}
	pool := newTestPool(&fakeEngine{export: testExport()}, nil, store, jobs)

	pool.Start(context.Background())
	jobID, err := pool.SubmitJSONInput(context.Background(), &domain.JSONInputRequest{ChainID: 1})
	require.NoError(t, err)
	pool.Stop()

	assert.Equal(t, 1, store.calls)
	require.Len(t, jobs.completed, 1)
	assert.Equal(t, jobID, jobs.completed[0])
	assert.Contains(t, jobs.ephemeral, jobID)
	assert.Empty(t, jobs.failed)
}

func TestPoolRecordsFailureCode(t *testing.T) {
	jobs := newFakeJobs()
	engine := &fakeEngine{err: domain.NewError(domain.ErrBytecodeMismatch, map[string]any{"chainId": 1})}
	pool := newTestPool(engine, nil, &fakeStore{}, jobs)

	pool.Start(context.Background())
	jobID, err := pool.SubmitJSONInput(context.Background(), &domain.JSONInputRequest{ChainID: 1})
	require.NoError(t, err, "submission succeeds even when the job will fail")
	pool.Stop()

	require.Contains(t, jobs.failed, jobID)
	assert.Equal(t, domain.ErrBytecodeMismatch, jobs.failed[jobID].Code)
	assert.NotEmpty(t, jobs.failed[jobID].ID)
	assert.Empty(t, jobs.completed)
}

func TestPoolWrapsUnknownErrors(t *testing.T) {
	jobs := newFakeJobs()
	pool := newTestPool(&fakeEngine{err: fmt.Errorf("boom")}, nil, &fakeStore{}, jobs)

	pool.Start(context.Background())
	jobID, err := pool.SubmitJSONInput(context.Background(), &domain.JSONInputRequest{ChainID: 1})
	require.NoError(t, err)
	pool.Stop()

	require.Contains(t, jobs.failed, jobID)
	assert.Equal(t, domain.ErrInternal, jobs.failed[jobID].Code)
}

func TestPoolFailsJobOnStoreConflict(t *testing.T) {
	jobs := newFakeJobs()
	store := &fakeStore{err: &domain.ConflictError{ChainID: 1, Address: "0xaa", Message: "an equal or better match already exists"}}
	pool := newTestPool(&fakeEngine{export: testExport()}, nil, store, jobs)

	pool.Start(context.Background())
	jobID, err := pool.SubmitJSONInput(context.Background(), &domain.JSONInputRequest{ChainID: 1})
	require.NoError(t, err)
	pool.Stop()

	require.Contains(t, jobs.failed, jobID)
	assert.Empty(t, jobs.completed)
}

func TestSubmitExplorerUsesDefaultAPIKey(t *testing.T) {
	jobs := newFakeJobs()
	importer := &fakeImporter{imported: &domain.ImportedContract{
		Language:        domain.LanguageSolidity,
		CompilerVersion: "0.8.21+commit.d9974bed",
		JSONInput:       &domain.StandardJSONInput{Language: "Solidity"},
		ContractPath:    "Token.sol",
		ContractName:    "Token",
	}}
	pool := newTestPool(&fakeEngine{export: testExport()}, importer, &fakeStore{stored: &domain.StoredVerification{VerifiedContractID: 1}}, jobs)

	pool.Start(context.Background())
	_, err := pool.SubmitExplorer(context.Background(), &domain.ExplorerRequest{ChainID: 1})
	require.NoError(t, err)
	pool.Stop()

	assert.Equal(t, "DEFAULTKEY", importer.gotKey)
	require.Len(t, jobs.completed, 1)
}
