package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidAddress is returned when an Ethereum address is invalid
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidChainID is returned when a chain ID is not configured
	ErrInvalidChainID = errors.New("invalid chain ID")

	// ErrJobNotFound is returned when a verification job id is unknown
	ErrJobNotFound = errors.New("verification job not found")
)

// ErrorCode identifies a stable, user-visible failure kind. Codes are data:
// a failed verification is a normal outcome, recorded on the job row and
// returned to callers, never a panic.
type ErrorCode string

const (
	// Compilation
	ErrUnsupportedCompilerVersion ErrorCode = "unsupported_compiler_version"
	ErrCompilerError              ErrorCode = "compiler_error"
	ErrContractNotFound           ErrorCode = "contract_not_found"
	ErrMissingSource              ErrorCode = "missing_source"
	ErrMissingOrInvalidSource     ErrorCode = "missing_or_invalid_source"
	ErrExtraFileInputBug          ErrorCode = "extra_file_input_bug"

	// Chain access
	ErrNoTraceSupport         ErrorCode = "no_trace_support"
	ErrNoCreateTrace          ErrorCode = "no_create_trace"
	ErrMalformedTraceResponse ErrorCode = "malformed_trace_response"
	ErrAllRPCsFailed          ErrorCode = "all_rpcs_failed"
	ErrContractNotDeployed    ErrorCode = "contract_not_deployed"

	// Verification
	ErrBytecodeMismatch    ErrorCode = "bytecode_mismatch"
	ErrNoSimilarMatchFound ErrorCode = "no_similar_match_found"

	// Etherscan import
	ErrEtherscanNetworkError                ErrorCode = "etherscan_network_error"
	ErrEtherscanHTTPError                   ErrorCode = "etherscan_http_error"
	ErrEtherscanRateLimit                   ErrorCode = "etherscan_rate_limit"
	ErrEtherscanAPIError                    ErrorCode = "etherscan_api_error"
	ErrEtherscanNotVerified                 ErrorCode = "etherscan_not_verified"
	ErrEtherscanMissingContractDefinition   ErrorCode = "etherscan_missing_contract_definition"
	ErrEtherscanVyperVersionMappingFailed   ErrorCode = "etherscan_vyper_version_mapping_failed"
	ErrEtherscanMissingContractInJSON       ErrorCode = "etherscan_missing_contract_in_json"
	ErrEtherscanMissingVyperSettings        ErrorCode = "etherscan_missing_vyper_settings"

	// Internal
	ErrInternal ErrorCode = "internal_error"
)

// VerificationError is the carrier for every user-visible failure. Each
// instance mints a fresh ID for log correlation; Data is keyed by Code.
type VerificationError struct {
	Code ErrorCode
	ID   string
	Data map[string]any

	cause error
}

// NewError creates a VerificationError with a fresh correlation id.
func NewError(code ErrorCode, data map[string]any) *VerificationError {
	return &VerificationError{
		Code: code,
		ID:   uuid.New().String(),
		Data: data,
	}
}

// WrapError attaches a cause to a fresh VerificationError.
func WrapError(code ErrorCode, cause error, data map[string]any) *VerificationError {
	e := NewError(code, data)
	e.cause = cause
	return e
}

func (e *VerificationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return string(e.Code)
}

func (e *VerificationError) Unwrap() error {
	return e.cause
}

// HasCode reports whether err is a VerificationError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Code == code
	}
	return false
}

// ErrorCodeOf extracts the code from err, falling back to internal_error.
func ErrorCodeOf(err error) ErrorCode {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ErrInternal
}

// ConflictError is raised by the store when a new verification does not beat
// the match already on record for the same deployment. Maps to HTTP 409.
type ConflictError struct {
	ChainID uint64
	Address string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict for %d/%s: %s", e.ChainID, e.Address, e.Message)
}
