package models

import "time"

// SignatureType classifies a selector registry entry.
type SignatureType string

const (
	SignatureTypeFunction SignatureType = "function"
	SignatureTypeEvent    SignatureType = "event"
	SignatureTypeError    SignatureType = "error"
)

// Signature is one selector registry entry. SignatureHash4 is the first four
// bytes of SignatureHash32 = keccak256(signature).
type Signature struct {
	SignatureHash32 []byte
	SignatureHash4  []byte
	Signature       string
	CreatedAt       time.Time
}

// CompiledContractSignature links a compilation to a signature it exposes.
type CompiledContractSignature struct {
	ID            int64
	CompilationID int64
	SignatureHash []byte
	SignatureType SignatureType
}

// SignatureStats mirrors the materialized stats view.
type SignatureStats struct {
	FunctionCount int64
	EventCount    int64
	ErrorCount    int64
	Total         int64
	Unknown       int64
	RefreshedAt   time.Time
}
