package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

// StoredVerification identifies the rows a verification landed on.
type StoredVerification struct {
	VerifiedContractID int64
	MatchID            int64
}

// MatchSummary is one page entry of a match listing.
type MatchSummary struct {
	ID            int64
	ChainID       uint64
	Address       common.Address
	RuntimeMatch  Match
	CreationMatch Match
	VerifiedAt    time.Time
}

// Property selects one field of a match projection.
type Property string

const (
	PropID                     Property = "id"
	PropCreationMatch          Property = "creation_match"
	PropRuntimeMatch           Property = "runtime_match"
	PropAddress                Property = "address"
	PropVerifiedAt             Property = "verified_at"
	PropMetadata               Property = "metadata"
	PropSources                Property = "sources"
	PropStdJSONInput           Property = "std_json_input"
	PropTransformations        Property = "transformations"
	PropCompilerSettings       Property = "compiler_settings"
	PropOnchainRuntimeCode     Property = "onchain_runtime_code"
	PropOnchainCreationCode    Property = "onchain_creation_code"
	PropRecompiledRuntimeCode  Property = "recompiled_runtime_code"
	PropRecompiledCreationCode Property = "recompiled_creation_code"
)

// AllProperties is the full projection set.
var AllProperties = []Property{
	PropID, PropCreationMatch, PropRuntimeMatch, PropAddress, PropVerifiedAt,
	PropMetadata, PropSources, PropStdJSONInput, PropTransformations,
	PropCompilerSettings, PropOnchainRuntimeCode, PropOnchainCreationCode,
	PropRecompiledRuntimeCode, PropRecompiledCreationCode,
}

// ValidateProperties rejects projections outside the enumerated set.
func ValidateProperties(props []Property) error {
	for _, p := range props {
		if !lo.Contains(AllProperties, p) {
			return fmt.Errorf("unknown property %q", p)
		}
	}
	return nil
}
