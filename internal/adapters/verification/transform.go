package verification

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chainproof-org/chainproof/internal/adapters/bytecode"
	"github.com/chainproof-org/chainproof/internal/domain"
)

// sideResult is the outcome of matching one bytecode side.
type sideResult struct {
	Match           domain.Match
	Transformations []domain.Transformation
	Values          domain.TransformationValues
	MetadataMatch   bool
	LibraryMap      map[string]string
}

// matchRuntime transforms the recompiled runtime bytecode toward the
// on-chain one and classifies the outcome.
func (e *Engine) matchRuntime(onchain, recompiled []byte, artifacts domain.CodeArtifacts) sideResult {
	res := sideResult{LibraryMap: map[string]string{}}
	if len(onchain) != len(recompiled) {
		return res
	}

	working := make([]byte, len(recompiled))
	copy(working, recompiled)

	e.applyCallProtection(onchain, working, &res)
	e.applyLibraries(onchain, working, artifacts.LinkReferences, &res)
	e.applyImmutables(onchain, working, artifacts.ImmutableReferences, &res)
	auxdataEdited := e.applyAuxdata(onchain, working, artifacts.CborAuxdata, &res)

	res.MetadataMatch = !auxdataEdited
	res.Match = classify(onchain, working, recompiled, artifacts, auxdataEdited, e)
	domain.SortTransformations(res.Transformations)
	return res
}

// matchCreation matches the creation side: the recompiled init code must be
// a prefix of the on-chain creation bytecode, the remainder being the
// ABI-encoded constructor arguments.
func (e *Engine) matchCreation(onchain, recompiled []byte, artifacts domain.CodeArtifacts) sideResult {
	res := sideResult{LibraryMap: map[string]string{}}
	if len(onchain) < len(recompiled) {
		return res
	}

	working := make([]byte, len(recompiled))
	copy(working, recompiled)
	prefix := onchain[:len(recompiled)]

	e.applyLibraries(prefix, working, artifacts.LinkReferences, &res)
	auxdataEdited := e.applyAuxdata(prefix, working, artifacts.CborAuxdata, &res)

	if tail := onchain[len(recompiled):]; len(tail) > 0 {
		res.Transformations = append(res.Transformations, domain.Transformation{
			Reason: domain.TransformationConstructorArguments,
			Type:   domain.TransformationInsert,
			Offset: len(recompiled),
		})
		res.Values.ConstructorArguments = hexutil.Encode(tail)
		working = append(working, tail...)
	}

	res.MetadataMatch = !auxdataEdited
	res.Match = classify(onchain, working, recompiled, artifacts, auxdataEdited, e)
	domain.SortTransformations(res.Transformations)
	return res
}

// applyCallProtection substitutes the deployed library's own address into
// the PUSH20 guard slot.
func (e *Engine) applyCallProtection(onchain, working []byte, res *sideResult) {
	offset, ok := e.analyzer.CallProtectionOffset(working)
	if !ok || len(onchain) < offset+20 {
		return
	}
	value := onchain[offset : offset+20]
	if bytes.Equal(value, working[offset:offset+20]) {
		return
	}
	bytecode.ReplaceAt(working, offset, value)
	res.Transformations = append(res.Transformations, domain.Transformation{
		Reason: domain.TransformationCallProtection,
		Type:   domain.TransformationReplace,
		Offset: offset,
	})
	res.Values.CallProtection = hexutil.Encode(value)
}

// applyLibraries substitutes on-chain library addresses into every link
// site, building the resolved library map.
func (e *Engine) applyLibraries(onchain, working []byte, sites []domain.LinkSite, res *sideResult) {
	for _, site := range sites {
		if site.Offset+site.Length > len(onchain) {
			continue
		}
		value := onchain[site.Offset : site.Offset+site.Length]
		bytecode.ReplaceAt(working, site.Offset, value)
		res.Transformations = append(res.Transformations, domain.Transformation{
			Reason: domain.TransformationLibrary,
			Type:   domain.TransformationReplace,
			Offset: site.Offset,
			ID:     site.Placeholder,
		})
		if res.Values.Libraries == nil {
			res.Values.Libraries = map[string]string{}
		}
		res.Values.Libraries[site.Placeholder] = hexutil.Encode(value)
		key := site.FullyQualifiedName
		if key == "" {
			key = site.Placeholder
		}
		res.LibraryMap[key] = hexutil.Encode(value)
	}
}

// applyImmutables substitutes the on-chain values of immutable reference
// slices that differ from the recompiled zeros.
func (e *Engine) applyImmutables(onchain, working []byte, refs map[string][]domain.LinkReferenceOffset, res *sideResult) {
	for astID, offsets := range refs {
		for _, ref := range offsets {
			if ref.Start+ref.Length > len(onchain) {
				continue
			}
			value := onchain[ref.Start : ref.Start+ref.Length]
			if bytes.Equal(value, working[ref.Start:ref.Start+ref.Length]) {
				continue
			}
			bytecode.ReplaceAt(working, ref.Start, value)
			res.Transformations = append(res.Transformations, domain.Transformation{
				Reason: domain.TransformationImmutable,
				Type:   domain.TransformationReplace,
				Offset: ref.Start,
				ID:     astID,
			})
			if res.Values.Immutables == nil {
				res.Values.Immutables = map[string]string{}
			}
			res.Values.Immutables[astID] = hexutil.Encode(value)
		}
	}
}

// applyAuxdata substitutes on-chain CBOR auxdata regions, reporting whether
// any region actually differed (a differing metadata hash downgrades the
// verdict to partial).
func (e *Engine) applyAuxdata(onchain, working []byte, regions map[string]domain.AuxdataRegion, res *sideResult) bool {
	edited := false
	for id, region := range regions {
		length := len(region.Value[2:]) / 2
		if region.Offset+length > len(onchain) {
			continue
		}
		value := onchain[region.Offset : region.Offset+length]
		if bytes.Equal(value, working[region.Offset:region.Offset+length]) {
			continue
		}
		edited = true
		bytecode.ReplaceAt(working, region.Offset, value)
		res.Transformations = append(res.Transformations, domain.Transformation{
			Reason: domain.TransformationCborAuxdata,
			Type:   domain.TransformationReplace,
			Offset: region.Offset,
			ID:     id,
		})
		if res.Values.CborAuxdata == nil {
			res.Values.CborAuxdata = map[string]string{}
		}
		res.Values.CborAuxdata[id] = hexutil.Encode(value)
	}
	return edited
}

// classify grades a transformed side: perfect when the edit log reproduced
// the on-chain bytes without touching metadata, partial when only the
// metadata hash differed (or equality holds only under normalization).
func classify(onchain, working, recompiled []byte, artifacts domain.CodeArtifacts, auxdataEdited bool, e *Engine) domain.Match {
	if bytes.Equal(working, onchain) {
		if auxdataEdited {
			return domain.MatchPartial
		}
		return domain.MatchPerfect
	}
	prefix := onchain
	if len(onchain) > len(recompiled) {
		prefix = onchain[:len(recompiled)]
	}
	if bytes.Equal(e.analyzer.Normalize(recompiled, artifacts), e.analyzer.Normalize(prefix, artifacts)) {
		return domain.MatchPartial
	}
	return domain.MatchNone
}
