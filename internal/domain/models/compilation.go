package models

import (
	"encoding/json"
	"time"
)

// CompiledContract is a content-addressed compilation output. Two
// compilations that produce the same bytecodes for the same compiler and
// language collapse to one row (null-treated uniqueness on
// creation_code_hash).
type CompiledContract struct {
	ID                    int64
	Compiler              string
	Version               string
	Language              string
	Name                  string
	FullyQualifiedName    string
	CompilationTargetPath string
	CompilerSettings      json.RawMessage
	CompilationArtifacts  json.RawMessage
	CreationCodeHash      []byte
	RuntimeCodeHash       []byte
	CreationCodeArtifacts json.RawMessage
	RuntimeCodeArtifacts  json.RawMessage
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Source is a content-addressed source file. SourceHash is sha256(content),
// SourceHashKeccak is keccak256(content); both are stored so lookups can be
// served for either addressing scheme.
type Source struct {
	SourceHash       []byte
	SourceHashKeccak []byte
	Content          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CompiledContractSource links a compilation to a source file under the path
// the compiler saw it at.
type CompiledContractSource struct {
	ID            int64
	CompilationID int64
	SourceHash    []byte
	Path          string
}
