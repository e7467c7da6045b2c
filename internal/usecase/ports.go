package usecase

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/models"
)

// VerificationStore persists verification results and serves match queries.
type VerificationStore interface {
	StoreVerification(ctx context.Context, export *domain.VerificationExport) (*domain.StoredVerification, error)
	LookupByChainAndAddress(ctx context.Context, chainID uint64, address common.Address, props []domain.Property) (map[string]any, error)
	PaginateMatches(ctx context.Context, chainID uint64, filter domain.MatchFilter, afterID int64, limit int, descending bool) ([]domain.MatchSummary, error)
	DeleteMatch(ctx context.Context, chainID uint64, address common.Address) error
	OrphanGC(ctx context.Context) error
}

// JobStore tracks verification jobs and their ephemeral payloads.
type JobStore interface {
	InsertJob(ctx context.Context, job *domain.VerificationJob) error
	CompleteJob(ctx context.Context, jobID string, verifiedContractID int64, compilationTime time.Duration) error
	FailJob(ctx context.Context, jobID string, jobErr *domain.JobError) error
	GetJob(ctx context.Context, jobID string) (*domain.VerificationJob, error)
	StoreEphemeral(ctx context.Context, e *domain.VerificationJobEphemeral) error
	PruneEphemeral(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignatureStore is the SQL surface behind the signature registry.
type SignatureStore interface {
	InsertSignatures(ctx context.Context, sigs []models.Signature) ([]bool, error)
	SignaturesByHash32(ctx context.Context, hashes [][]byte) ([]models.Signature, error)
	SignaturesByHash4(ctx context.Context, hashes [][]byte) ([]models.Signature, error)
	SearchSignatures(ctx context.Context, likePattern string, limit int) ([]models.Signature, error)
	VerifiedSignatureHashes(ctx context.Context, hashes [][]byte) (map[string]bool, error)
	LinkCompilationSignatures(ctx context.Context, compilationID int64, links []models.CompiledContractSignature) error
	SignatureStats(ctx context.Context) (*models.SignatureStats, error)
	RefreshSignatureStats(ctx context.Context) error
}

// SignatureRegistry is the user-facing selector registry.
type SignatureRegistry interface {
	Lookup(ctx context.Context, functions, events []string) (*domain.SignatureLookup, error)
	Search(ctx context.Context, pattern string, filterCanonical bool) (*domain.SignatureLookup, error)
	Insert(ctx context.Context, batch []string) ([]domain.SignatureInsertOutcome, error)
	Stats(ctx context.Context) (*models.SignatureStats, error)
	RefreshStats(ctx context.Context) error
}

// VerificationEngine runs the compile-compare-classify pipeline.
type VerificationEngine interface {
	VerifyFromJSONInput(ctx context.Context, req *domain.JSONInputRequest) (*domain.VerificationExport, error)
	VerifyFromMetadata(ctx context.Context, req *domain.MetadataRequest) (*domain.VerificationExport, error)
}

// ExplorerImporter fetches and normalizes verified sources from a block
// explorer.
type ExplorerImporter interface {
	Fetch(ctx context.Context, chainID uint64, address string, apiKey string) (*domain.ImportedContract, error)
}

// WorkerPool dispatches verification jobs to background workers.
type WorkerPool interface {
	SubmitJSONInput(ctx context.Context, req *domain.JSONInputRequest) (string, error)
	SubmitMetadata(ctx context.Context, req *domain.MetadataRequest) (string, error)
	SubmitExplorer(ctx context.Context, req *domain.ExplorerRequest) (string, error)
}

// ChainProviders resolves the RPC access layer for a configured chain.
type ChainProviders interface {
	Provider(chainID uint64) (ChainProvider, error)
}

// ChainProvider is the per-chain RPC surface the use cases touch.
type ChainProvider interface {
	ChainID() uint64
	GetBytecode(ctx context.Context, address common.Address) ([]byte, error)
	GetCreationBytecode(ctx context.Context, txHash common.Hash, address common.Address) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// SimilarityTrigger fires the fallback similarity verification for a
// contract that could not be assembled from metadata.
type SimilarityTrigger interface {
	Trigger(ctx context.Context, chainID uint64, address common.Address) error
}
