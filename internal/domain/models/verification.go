package models

import (
	"encoding/json"
	"time"
)

// VerifiedContract links a CompiledContract to a ContractDeployment together
// with the verification verdict. Uniqueness: (compilation_id, deployment_id).
// Rows are append-only; a better verification adds a new row and re-points
// the sourcify match.
type VerifiedContract struct {
	ID                        int64
	CompilationID             int64
	DeploymentID              int64
	CreationMatch             *string
	CreationValues            json.RawMessage
	CreationTransformations   json.RawMessage
	RuntimeMatch              *string
	RuntimeValues             json.RawMessage
	RuntimeTransformations    json.RawMessage
	RuntimeMetadataMatch      *bool
	CreationMetadataMatch     *bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// SourcifyMatch is the canonical (best) verification for a deployment. At
// most one row per verified contract; when a better verification arrives the
// row is updated in place and old verified_contracts rows are kept.
type SourcifyMatch struct {
	ID                 int64
	VerifiedContractID int64
	CreationMatch      *string
	RuntimeMatch       *string
	Metadata           json.RawMessage
	LicenseCode        *string
	Label              *string
	SimilarMatchID     *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
