package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainproof-org/chainproof/internal/adapters/compiler"
	"github.com/chainproof-org/chainproof/internal/domain"
)

// VerifyFromMetadata reconstructs a standard JSON input from a solc metadata
// document, resolving each pinned source from the supplied files or from
// IPFS, and verifies the target contract.
func (e *Engine) VerifyFromMetadata(ctx context.Context, req *domain.MetadataRequest) (*domain.VerificationExport, error) {
	var md domain.Metadata
	if err := json.Unmarshal(req.Metadata, &md); err != nil {
		return nil, domain.WrapError(domain.ErrMissingOrInvalidSource, err, map[string]any{
			"reason": "metadata is not valid JSON",
		})
	}

	target, err := md.Target()
	if err != nil {
		return nil, domain.WrapError(domain.ErrMissingOrInvalidSource, err, nil)
	}

	sources, err := e.assembleSources(ctx, &md, req.Sources)
	if err != nil {
		return nil, err
	}

	jsonReq := &domain.JSONInputRequest{
		ChainID:         req.ChainID,
		Address:         req.Address,
		Language:        domain.Language(strings.ToLower(md.Language)),
		CompilerVersion: strings.TrimPrefix(md.Compiler.Version, "v"),
		Target:          target,
		CreationTxHash:  req.CreationTxHash,
		Input: &domain.StandardJSONInput{
			Language: md.Language,
			Sources:  sources,
			Settings: settingsFromMetadata(&md.Settings),
		},
	}

	export, err := e.VerifyFromJSONInput(ctx, jsonReq)
	if err == nil || !domain.HasCode(err, domain.ErrBytecodeMismatch) {
		return export, err
	}

	// solc 0.6.12 and 0.7.0 hash sources that are absent from the metadata
	// but were present in the original input. The signature is a mismatch
	// whose auxdata trailers still agree: only the bug explains that.
	if !versionHasExtraFileInputBug(jsonReq.CompilerVersion) || !e.auxdataTrailersMatch(err) {
		return nil, err
	}
	extra := extraSources(jsonReq.Input.Sources, req.Sources)
	if len(extra) == 0 {
		return nil, domain.WrapError(domain.ErrExtraFileInputBug, err, map[string]any{
			"compilerVersion": jsonReq.CompilerVersion,
		})
	}
	for path, content := range extra {
		jsonReq.Input.Sources[path] = domain.SourceFile{Content: content}
	}
	export, retryErr := e.VerifyFromJSONInput(ctx, jsonReq)
	if retryErr == nil {
		return export, nil
	}
	return nil, domain.WrapError(domain.ErrExtraFileInputBug, retryErr, map[string]any{
		"compilerVersion": jsonReq.CompilerVersion,
	})
}

// auxdataTrailersMatch reports whether the on-chain and recompiled runtime
// bytecodes of a mismatch carry an identical CBOR auxdata trailer. The
// mismatch payload ships both codes.
func (e *Engine) auxdataTrailersMatch(err error) bool {
	var verr *domain.VerificationError
	if !errors.As(err, &verr) {
		return false
	}
	onchainHex, ok := verr.Data["onchainRuntimeCode"].(string)
	if !ok {
		return false
	}
	recompiledHex, ok := verr.Data["recompiledRuntimeCode"].(string)
	if !ok {
		return false
	}
	onchain, decErr := hexutil.Decode(onchainHex)
	if decErr != nil {
		return false
	}
	recompiled, decErr := hexutil.Decode(recompiledHex)
	if decErr != nil {
		return false
	}
	onchainRegion, ok := e.analyzer.TailScan(onchain)
	if !ok {
		return false
	}
	recompiledRegion, ok := e.analyzer.TailScan(recompiled)
	if !ok {
		return false
	}
	return onchainRegion.Value == recompiledRegion.Value
}

// assembleSources resolves each metadata-pinned source file. Supplied files
// are matched by keccak256 of their content; anything still missing is
// fetched from IPFS and checked against the pinned hash.
func (e *Engine) assembleSources(ctx context.Context, md *domain.Metadata, supplied map[string]string) (map[string]domain.SourceFile, error) {
	byHash := make(map[string]string, len(supplied))
	for _, content := range supplied {
		byHash[sourceHash(content)] = content
	}

	out := make(map[string]domain.SourceFile, len(md.Sources))
	var missing []string
	for path, src := range md.Sources {
		switch {
		case src.Content != "":
			out[path] = domain.SourceFile{Content: src.Content}
		case src.Keccak256 != "":
			want := strings.ToLower(src.Keccak256)
			if content, ok := byHash[want]; ok {
				out[path] = domain.SourceFile{Content: content}
				continue
			}
			content, err := e.fetchByCID(ctx, src.IPFSCID(), want)
			if err != nil {
				e.log.Debug("source fetch failed", "path", path, "error", err)
				missing = append(missing, path)
				continue
			}
			out[path] = domain.SourceFile{Content: content}
		default:
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewError(domain.ErrMissingSource, map[string]any{
			"missingSources": missing,
		})
	}
	return out, nil
}

// fetchByCID retrieves a source document from IPFS and verifies its pinned
// keccak256 hash.
func (e *Engine) fetchByCID(ctx context.Context, cid, wantHash string) (string, error) {
	if cid == "" {
		return "", fmt.Errorf("source has no ipfs url")
	}
	if e.fetcher == nil {
		return "", fmt.Errorf("no source fetcher configured")
	}
	raw, err := e.fetcher.Fetch(ctx, cid)
	if err != nil {
		return "", err
	}
	content := string(raw)
	if got := sourceHash(content); got != wantHash {
		return "", fmt.Errorf("fetched source hash %s does not match pinned %s", got, wantHash)
	}
	return content, nil
}

func sourceHash(content string) string {
	return strings.ToLower(crypto.Keccak256Hash([]byte(content)).Hex())
}

// settingsFromMetadata lifts the metadata settings into standard JSON form.
// compilationTarget is metadata-only and must not reach the compiler;
// libraries move from "path:Name" keys to the nested standard JSON shape.
func settingsFromMetadata(ms *domain.MetadataSettings) json.RawMessage {
	settings := map[string]any{}
	if ms.EvmVersion != "" {
		settings["evmVersion"] = ms.EvmVersion
	}
	if len(ms.Optimizer) > 0 {
		settings["optimizer"] = json.RawMessage(ms.Optimizer)
	}
	if len(ms.Metadata) > 0 {
		settings["metadata"] = json.RawMessage(ms.Metadata)
	}
	if len(ms.Remappings) > 0 {
		settings["remappings"] = ms.Remappings
	}
	if ms.ViaIR {
		settings["viaIR"] = true
	}
	if len(ms.Libraries) > 0 {
		libraries := map[string]map[string]string{}
		for qualified, address := range ms.Libraries {
			path, name := "", qualified
			if idx := strings.LastIndex(qualified, ":"); idx != -1 {
				path, name = qualified[:idx], qualified[idx+1:]
			}
			if libraries[path] == nil {
				libraries[path] = map[string]string{}
			}
			libraries[path][name] = address
		}
		settings["libraries"] = libraries
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func versionHasExtraFileInputBug(version string) bool {
	v, err := compiler.ParseVersion(version)
	if err != nil {
		return false
	}
	return v.HasExtraFileInputBug()
}

// extraSources returns the supplied files whose content is not already part
// of the assembled input.
func extraSources(assembled map[string]domain.SourceFile, supplied map[string]string) map[string]string {
	used := make(map[string]bool, len(assembled))
	for _, src := range assembled {
		used[sourceHash(src.Content)] = true
	}
	out := map[string]string{}
	for path, content := range supplied {
		if !used[sourceHash(content)] {
			out[path] = content
		}
	}
	return out
}
