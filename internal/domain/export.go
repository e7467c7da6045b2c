package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DeploymentInfo captures what is known about the deployment transaction.
// Fields are pointers because discovery is best-effort.
type DeploymentInfo struct {
	TransactionHash  *common.Hash    `json:"transactionHash,omitempty"`
	BlockNumber      *uint64         `json:"blockNumber,omitempty"`
	TransactionIndex *uint64         `json:"transactionIndex,omitempty"`
	Deployer         *common.Address `json:"deployer,omitempty"`
}

// VerificationStatus is the two-sided verdict of a verification.
type VerificationStatus struct {
	RuntimeMatch  Match `json:"runtimeMatch"`
	CreationMatch Match `json:"creationMatch"`
}

// VerificationExport is the complete, persistence-ready result of a
// successful verification.
type VerificationExport struct {
	Address common.Address `json:"address"`
	ChainID uint64         `json:"chainId"`

	Status VerificationStatus `json:"status"`

	OnchainRuntimeBytecode     []byte `json:"onchainRuntimeBytecode"`
	OnchainCreationBytecode    []byte `json:"onchainCreationBytecode,omitempty"`
	RecompiledRuntimeBytecode  []byte `json:"recompiledRuntimeBytecode"`
	RecompiledCreationBytecode []byte `json:"recompiledCreationBytecode,omitempty"`

	RuntimeTransformations  []Transformation     `json:"runtimeTransformations,omitempty"`
	CreationTransformations []Transformation     `json:"creationTransformations,omitempty"`
	RuntimeValues           TransformationValues `json:"runtimeValues,omitempty"`
	CreationValues          TransformationValues `json:"creationValues,omitempty"`

	RuntimeMetadataMatch  bool `json:"runtimeMetadataMatch"`
	CreationMetadataMatch bool `json:"creationMetadataMatch"`

	// LibraryMap is the resolved placeholder -> on-chain address map.
	LibraryMap map[string]string `json:"libraryMap,omitempty"`

	Deployment DeploymentInfo `json:"deployment"`

	// Compilation identity.
	Compiler         string            `json:"compiler"`
	Language         Language          `json:"language"`
	CompilerVersion  string            `json:"compilerVersion"`
	Target           CompilationTarget `json:"compilationTarget"`
	CompilerSettings json.RawMessage   `json:"compilerSettings"`

	Sources map[string]string `json:"sources"`

	CompilationArtifacts json.RawMessage `json:"compilationArtifacts,omitempty"`
	CreationArtifacts    CodeArtifacts   `json:"creationCodeArtifacts"`
	RuntimeArtifacts     CodeArtifacts   `json:"runtimeCodeArtifacts"`

	CompilationTime time.Duration `json:"compilationTime,omitempty"`
	VerifiedAt      time.Time     `json:"verifiedAt"`
}
