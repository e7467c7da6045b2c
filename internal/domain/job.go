package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobError is the terminal failure recorded on a verification job row.
type JobError struct {
	Code ErrorCode       `json:"code"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// VerificationJob tracks one off-request verification from enqueue to
// terminal state. The row is inserted before any compiler work begins and
// updated exactly once when the job finishes.
type VerificationJob struct {
	ID                   string
	StartedAt            time.Time
	CompletedAt          *time.Time
	ChainID              uint64
	ContractAddress      common.Address
	VerifiedContractID   *int64
	Error                *JobError
	CompilationTime      *time.Duration
	VerificationEndpoint string
	Hardware             string
}

// IsPending reports whether the job has not reached a terminal state.
func (j *VerificationJob) IsPending() bool {
	return j.CompletedAt == nil
}

// JSONInputRequest asks for a verification against an explicit standard
// JSON input.
type JSONInputRequest struct {
	ChainID         uint64
	Address         common.Address
	Language        Language
	CompilerVersion string
	Input           *StandardJSONInput
	Target          CompilationTarget
	CreationTxHash  *common.Hash
}

// MetadataRequest asks for a verification assembled from a metadata document
// plus whatever sources the caller already has. Missing sources may be
// fetched from IPFS by hash.
type MetadataRequest struct {
	ChainID        uint64
	Address        common.Address
	Metadata       json.RawMessage
	Sources        map[string]string
	CreationTxHash *common.Hash
}

// ExplorerRequest asks for a verification seeded from a block explorer's
// verified-source API.
type ExplorerRequest struct {
	ChainID uint64
	Address common.Address
	APIKey  string
}

// VerificationJobEphemeral stores the large payloads of a job, pruned
// separately from the job row itself.
type VerificationJobEphemeral struct {
	ID                      string
	RecompiledCreationCode  []byte
	RecompiledRuntimeCode   []byte
	OnchainCreationCode     []byte
	OnchainRuntimeCode      []byte
	CreationTransactionHash *common.Hash
}
