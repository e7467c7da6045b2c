package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Language tags the compilation variant. Solidity, Vyper and Yul compilations
// share the same capability set and are treated uniformly by the engine.
type Language string

const (
	LanguageSolidity Language = "solidity"
	LanguageVyper    Language = "vyper"
	LanguageYul      Language = "yul"
)

// Compiler returns the compiler family for the language.
func (l Language) Compiler() string {
	if l == LanguageVyper {
		return "vyper"
	}
	return "solc"
}

// Title renders the language the way standard JSON inputs spell it.
func (l Language) Title() string {
	if l == "" {
		return ""
	}
	return strings.ToUpper(string(l[:1])) + string(l[1:])
}

// CompilationTarget identifies the contract to verify within a standard JSON
// input: a source path plus a contract name.
type CompilationTarget struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func (t CompilationTarget) String() string {
	return fmt.Sprintf("%s:%s", t.Path, t.Name)
}

// SourceFile is one entry in a standard JSON input's sources map.
type SourceFile struct {
	Content string `json:"content"`
}

// StandardJSONInput is the canonical compiler input schema shared by solc and
// vyper. Settings stay raw: they are compiler-version specific and are hashed
// and persisted verbatim.
type StandardJSONInput struct {
	Language string                `json:"language"`
	Sources  map[string]SourceFile `json:"sources"`
	Settings json.RawMessage       `json:"settings,omitempty"`
}

// StandardJSONOutput is the subset of the compiler output the engine reads.
type StandardJSONOutput struct {
	Errors    []CompilerDiagnostic                 `json:"errors,omitempty"`
	Contracts map[string]map[string]ContractOutput `json:"contracts,omitempty"`
	Sources   map[string]struct {
		ID int `json:"id"`
	} `json:"sources,omitempty"`
}

// HasErrors reports whether the output carries at least one severity=error
// diagnostic. Warnings do not fail a compilation.
func (o *StandardJSONOutput) HasErrors() bool {
	for _, d := range o.Errors {
		if d.Severity == "error" {
			return true
		}
	}
	return false
}

// ErrorMessages collects the formatted messages of all error diagnostics.
func (o *StandardJSONOutput) ErrorMessages() []string {
	var msgs []string
	for _, d := range o.Errors {
		if d.Severity == "error" {
			if d.FormattedMessage != "" {
				msgs = append(msgs, d.FormattedMessage)
			} else {
				msgs = append(msgs, d.Message)
			}
		}
	}
	return msgs
}

// CompilerDiagnostic is one entry of the output's errors array, surfaced
// verbatim to callers.
type CompilerDiagnostic struct {
	Type             string `json:"type"`
	Component        string `json:"component"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
}

// ContractOutput is the per-contract slice of a standard JSON output.
type ContractOutput struct {
	ABI      json.RawMessage `json:"abi,omitempty"`
	Metadata string          `json:"metadata,omitempty"`
	Userdoc  json.RawMessage `json:"userdoc,omitempty"`
	Devdoc   json.RawMessage `json:"devdoc,omitempty"`
	StorageLayout json.RawMessage `json:"storageLayout,omitempty"`
	EVM      EVMOutput       `json:"evm"`
}

// EVMOutput carries the bytecode sections of a contract output.
type EVMOutput struct {
	Bytecode         BytecodeOutput         `json:"bytecode"`
	DeployedBytecode DeployedBytecodeOutput `json:"deployedBytecode"`
	LegacyAssembly   json.RawMessage        `json:"legacyAssembly,omitempty"`
	MethodIdentifiers map[string]string     `json:"methodIdentifiers,omitempty"`
}

// LinkReferenceOffset is one library link site inside a bytecode.
type LinkReferenceOffset struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// BytecodeOutput is the creation-side bytecode section.
type BytecodeOutput struct {
	Object         string                                      `json:"object"`
	SourceMap      string                                      `json:"sourceMap,omitempty"`
	LinkReferences map[string]map[string][]LinkReferenceOffset `json:"linkReferences,omitempty"`
}

// DeployedBytecodeOutput adds the runtime-only immutable references.
type DeployedBytecodeOutput struct {
	BytecodeOutput
	ImmutableReferences map[string][]LinkReferenceOffset `json:"immutableReferences,omitempty"`
}

// Metadata is the solc metadata.json document pinned in the auxdata hash.
type Metadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Language string          `json:"language"`
	Output   json.RawMessage `json:"output,omitempty"`
	Settings MetadataSettings `json:"settings"`
	Sources  map[string]MetadataSource `json:"sources"`
	Version  int             `json:"version"`
}

// MetadataSettings is the settings section of a metadata document. Unlike the
// standard JSON settings it always carries the compilation target.
type MetadataSettings struct {
	CompilationTarget map[string]string            `json:"compilationTarget"`
	EvmVersion        string                       `json:"evmVersion,omitempty"`
	Libraries         map[string]string            `json:"libraries,omitempty"`
	Metadata          json.RawMessage              `json:"metadata,omitempty"`
	Optimizer         json.RawMessage              `json:"optimizer,omitempty"`
	Remappings        []string                     `json:"remappings,omitempty"`
	ViaIR             bool                         `json:"viaIR,omitempty"`
}

// MetadataSource describes one source file referenced by a metadata document.
type MetadataSource struct {
	Keccak256 string   `json:"keccak256,omitempty"`
	Content   string   `json:"content,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	License   string   `json:"license,omitempty"`
}

// Target extracts the single compilation target of a metadata document.
func (m *Metadata) Target() (CompilationTarget, error) {
	for path, name := range m.Settings.CompilationTarget {
		return CompilationTarget{Path: path, Name: name}, nil
	}
	return CompilationTarget{}, fmt.Errorf("metadata has no compilationTarget")
}

// IPFSCID extracts the ipfs hash from a metadata source's urls
// (dweb:/ipfs/<cid> entries).
func (s MetadataSource) IPFSCID() string {
	for _, u := range s.URLs {
		if idx := strings.Index(u, "ipfs/"); idx != -1 {
			return u[idx+len("ipfs/"):]
		}
	}
	return ""
}

// AuxdataRegion is one CBOR-tagged trailer located in a bytecode.
type AuxdataRegion struct {
	Offset int    `json:"offset"`
	Value  string `json:"value"` // 0x-prefixed hex of the raw region
}

// LinkSite is one library placeholder occurrence in a bytecode.
type LinkSite struct {
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	Placeholder string `json:"placeholder"`
	// FullyQualifiedName is "path:Name" when the compiler output resolves it.
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
}

// CodeArtifacts is the per-side analysis persisted next to a compilation:
// auxdata regions, link sites and (runtime only) immutable references.
type CodeArtifacts struct {
	CborAuxdata         map[string]AuxdataRegion         `json:"cborAuxdata,omitempty"`
	LinkReferences      []LinkSite                       `json:"linkReferences,omitempty"`
	ImmutableReferences map[string][]LinkReferenceOffset `json:"immutableReferences,omitempty"`
}

// Compilation is the uniform result of invoking any compiler variant on a
// standard JSON input, reduced to the capability set the engine needs.
type Compilation struct {
	Language        Language
	CompilerVersion string
	Target          CompilationTarget

	JSONInput *StandardJSONInput
	Output    *StandardJSONOutput

	CreationBytecode []byte
	RuntimeBytecode  []byte

	// Per-side analysis filled in by the bytecode analyzer.
	CreationArtifacts CodeArtifacts
	RuntimeArtifacts  CodeArtifacts

	// CompilationArtifacts is the user-facing artifact blob (abi, docs,
	// metadata, storage layout).
	CompilationArtifacts json.RawMessage

	// Metadata is set for metadata-driven compilations.
	Metadata *Metadata
}

// ContractOutput returns the output slice for the compilation target.
func (c *Compilation) ContractOutput() (*ContractOutput, bool) {
	if c.Output == nil {
		return nil, false
	}
	byName, ok := c.Output.Contracts[c.Target.Path]
	if !ok {
		return nil, false
	}
	out, ok := byName[c.Target.Name]
	if !ok {
		return nil, false
	}
	return &out, true
}
