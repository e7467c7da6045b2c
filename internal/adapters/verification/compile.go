package verification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chainproof-org/chainproof/internal/adapters/compiler"
	"github.com/chainproof-org/chainproof/internal/domain"
)

// requiredOutputs is the output selection the pipeline depends on; it is
// forced into every input so callers cannot starve the analyzer.
var requiredOutputs = []string{
	"abi", "userdoc", "devdoc", "storageLayout", "metadata",
	"evm.bytecode.object", "evm.bytecode.sourceMap", "evm.bytecode.linkReferences",
	"evm.deployedBytecode.object", "evm.deployedBytecode.sourceMap",
	"evm.deployedBytecode.linkReferences", "evm.deployedBytecode.immutableReferences",
	"evm.legacyAssembly", "evm.methodIdentifiers",
}

// compile invokes the compiler and reduces its output to the uniform
// Compilation shape: decoded bytecodes plus per-side malleable-region
// artifacts.
func (e *Engine) compile(ctx context.Context, req *domain.JSONInputRequest, forceEmscripten bool) (*domain.Compilation, time.Duration, error) {
	input := forceOutputSelection(req.Input)

	start := time.Now()
	output, err := e.invoker.Compile(ctx, req.Language, req.CompilerVersion, input, compiler.CompileOptions{
		ForceEmscripten: forceEmscripten,
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}

	comp := &domain.Compilation{
		Language:        req.Language,
		CompilerVersion: req.CompilerVersion,
		Target:          req.Target,
		JSONInput:       input,
		Output:          output,
	}

	contract, ok := comp.ContractOutput()
	if !ok {
		if output.HasErrors() {
			return nil, elapsed, domain.NewError(domain.ErrCompilerError, map[string]any{
				"errors": output.ErrorMessages(),
			})
		}
		return nil, elapsed, domain.NewError(domain.ErrContractNotFound, map[string]any{
			"target": req.Target.String(),
		})
	}

	creation, creationSites, err := e.analyzer.DecodeCompiled(contract.EVM.Bytecode.Object)
	if err != nil {
		return nil, elapsed, domain.WrapError(domain.ErrCompilerError, err, nil)
	}
	runtime, runtimeSites, err := e.analyzer.DecodeCompiled(contract.EVM.DeployedBytecode.Object)
	if err != nil {
		return nil, elapsed, domain.WrapError(domain.ErrCompilerError, err, nil)
	}
	comp.CreationBytecode = creation
	comp.RuntimeBytecode = runtime
	comp.CreationArtifacts.LinkReferences = creationSites
	comp.RuntimeArtifacts.LinkReferences = runtimeSites
	comp.RuntimeArtifacts.ImmutableReferences = e.analyzer.ImmutableReferences(&contract.EVM.DeployedBytecode)

	e.locateAuxdata(comp, contract)

	if req.Language == domain.LanguageSolidity && contract.Metadata != "" {
		var md domain.Metadata
		if err := json.Unmarshal([]byte(contract.Metadata), &md); err == nil {
			comp.Metadata = &md
		}
	}
	comp.CompilationArtifacts = buildArtifacts(contract)
	return comp, elapsed, nil
}

// locateAuxdata fills the per-side cborAuxdata regions. Primary source is
// the legacyAssembly auxdata walk; compilers that emit none (vyper, solc
// before 0.4.12) fall back to the tail scan.
func (e *Engine) locateAuxdata(comp *domain.Compilation, contract *domain.ContractOutput) {
	var auxdatas []string
	if comp.Language == domain.LanguageSolidity {
		if v, err := compiler.ParseVersion(comp.CompilerVersion); err == nil && v.HasLegacyAssemblyAuxdata() {
			auxdatas = e.analyzer.CollectAuxdatas(contract.EVM.LegacyAssembly)
		}
	}

	if len(auxdatas) > 0 {
		comp.CreationArtifacts.CborAuxdata = e.analyzer.FindAuxdataRegions(comp.CreationBytecode, auxdatas)
		comp.RuntimeArtifacts.CborAuxdata = e.analyzer.FindAuxdataRegions(comp.RuntimeBytecode, auxdatas)
		return
	}
	if region, ok := e.analyzer.TailScan(comp.RuntimeBytecode); ok {
		comp.RuntimeArtifacts.CborAuxdata = map[string]domain.AuxdataRegion{"1": region}
	}
	if region, ok := e.analyzer.TailScan(comp.CreationBytecode); ok {
		comp.CreationArtifacts.CborAuxdata = map[string]domain.AuxdataRegion{"1": region}
	}
}

// buildArtifacts assembles the user-facing artifact blob.
func buildArtifacts(contract *domain.ContractOutput) json.RawMessage {
	artifacts := map[string]any{}
	if len(contract.ABI) > 0 {
		artifacts["abi"] = json.RawMessage(contract.ABI)
	}
	if len(contract.Userdoc) > 0 {
		artifacts["userdoc"] = json.RawMessage(contract.Userdoc)
	}
	if len(contract.Devdoc) > 0 {
		artifacts["devdoc"] = json.RawMessage(contract.Devdoc)
	}
	if len(contract.StorageLayout) > 0 {
		artifacts["storageLayout"] = json.RawMessage(contract.StorageLayout)
	}
	if contract.Metadata != "" {
		artifacts["metadata"] = json.RawMessage(contract.Metadata)
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return nil
	}
	return raw
}

// forceOutputSelection overlays the required output selection onto the
// caller's settings, leaving everything else untouched.
func forceOutputSelection(input *domain.StandardJSONInput) *domain.StandardJSONInput {
	settings := map[string]any{}
	if len(input.Settings) > 0 {
		if err := json.Unmarshal(input.Settings, &settings); err != nil {
			return input
		}
	}
	settings["outputSelection"] = map[string]any{"*": map[string]any{"*": requiredOutputs}}
	raw, err := json.Marshal(settings)
	if err != nil {
		return input
	}
	return &domain.StandardJSONInput{
		Language: input.Language,
		Sources:  input.Sources,
		Settings: raw,
	}
}
