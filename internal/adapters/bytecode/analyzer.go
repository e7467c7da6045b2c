package bytecode

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// Analyzer locates the malleable regions of compiled bytecode: CBOR auxdata
// trailers, immutable reference slices and library link placeholders. All of
// its work is CPU-only.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// placeholderRe matches solc >= 0.5 library placeholders: __$<34 hex>$__.
var placeholderRe = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

// legacyPlaceholderRe matches pre-0.5 placeholders: 40 chars of
// __<identifier> padded with underscores.
var legacyPlaceholderRe = regexp.MustCompile(`__[A-Za-z0-9_.:]{36}__`)

// FindLinkSites enumerates library placeholders in a compiled bytecode hex
// string (no 0x prefix). Offsets are byte offsets into the decoded bytecode.
func (a *Analyzer) FindLinkSites(bytecodeHex string) []domain.LinkSite {
	var sites []domain.LinkSite
	seen := make(map[int]bool)

	for _, loc := range placeholderRe.FindAllStringIndex(bytecodeHex, -1) {
		sites = append(sites, domain.LinkSite{
			Offset:      loc[0] / 2,
			Length:      (loc[1] - loc[0]) / 2,
			Placeholder: bytecodeHex[loc[0]:loc[1]],
		})
		seen[loc[0]] = true
	}
	for _, loc := range legacyPlaceholderRe.FindAllStringIndex(bytecodeHex, -1) {
		if seen[loc[0]] {
			continue
		}
		sites = append(sites, domain.LinkSite{
			Offset:      loc[0] / 2,
			Length:      (loc[1] - loc[0]) / 2,
			Placeholder: bytecodeHex[loc[0]:loc[1]],
		})
	}
	return sites
}

// HasLinkPlaceholders reports whether the hex string still carries unresolved
// placeholders (and therefore cannot be hex-decoded).
func (a *Analyzer) HasLinkPlaceholders(bytecodeHex string) bool {
	return placeholderRe.MatchString(bytecodeHex) || legacyPlaceholderRe.MatchString(bytecodeHex)
}

// DecodeCompiled decodes a compiled bytecode hex string, substituting zero
// bytes for any unresolved link placeholders first.
func (a *Analyzer) DecodeCompiled(bytecodeHex string) ([]byte, []domain.LinkSite, error) {
	bytecodeHex = strings.TrimPrefix(bytecodeHex, "0x")
	sites := a.FindLinkSites(bytecodeHex)
	if len(sites) > 0 {
		b := []byte(bytecodeHex)
		for _, site := range sites {
			for i := site.Offset * 2; i < (site.Offset+site.Length)*2; i++ {
				b[i] = '0'
			}
		}
		bytecodeHex = string(b)
	}
	raw, err := hex.DecodeString(bytecodeHex)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid bytecode hex: %w", err)
	}
	return raw, sites, nil
}

// CollectAuxdatas walks a legacyAssembly document and returns every .auxdata
// hex string it carries, outermost first. Solidity < 0.4.12 emits no
// .auxdata field; callers fall back to TailScan.
func (a *Analyzer) CollectAuxdatas(legacyAssembly json.RawMessage) []string {
	if len(legacyAssembly) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(legacyAssembly, &doc); err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	collectAuxdatas(doc, &out, seen)
	return out
}

func collectAuxdatas(node map[string]any, out *[]string, seen map[string]bool) {
	if aux, ok := node[".auxdata"].(string); ok && aux != "" {
		aux = strings.TrimPrefix(aux, "0x")
		if !seen[aux] {
			seen[aux] = true
			*out = append(*out, aux)
		}
	}
	data, ok := node[".data"].(map[string]any)
	if !ok {
		return
	}
	for _, sub := range data {
		if subMap, ok := sub.(map[string]any); ok {
			collectAuxdatas(subMap, out, seen)
		}
	}
}

// FindAuxdataRegions locates each auxdata string in a bytecode and returns
// {auxdataId: {offset, value}} with ids assigned "1".. in collection order.
// An auxdata may legitimately be absent (the creation assembly also lists
// the runtime auxdata).
func (a *Analyzer) FindAuxdataRegions(code []byte, auxdatas []string) map[string]domain.AuxdataRegion {
	regions := make(map[string]domain.AuxdataRegion)
	id := 1
	for _, aux := range auxdatas {
		needle, err := hex.DecodeString(aux)
		if err != nil || len(needle) == 0 {
			continue
		}
		idx := bytes.Index(code, needle)
		if idx == -1 {
			continue
		}
		regions[fmt.Sprintf("%d", id)] = domain.AuxdataRegion{
			Offset: idx,
			Value:  "0x" + aux,
		}
		id++
	}
	return regions
}

// TailScan locates a CBOR auxdata trailer using the length-prefix
// convention: the final two bytes encode the big-endian byte length of the
// CBOR document immediately preceding them. Returns false when the tail does
// not decode as CBOR.
func (a *Analyzer) TailScan(code []byte) (domain.AuxdataRegion, bool) {
	if len(code) < 4 {
		return domain.AuxdataRegion{}, false
	}
	cborLen := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if cborLen == 0 || cborLen+2 > len(code) {
		return domain.AuxdataRegion{}, false
	}
	start := len(code) - 2 - cborLen
	region := code[start:]
	if _, err := a.DecodeAuxdata(region); err != nil {
		return domain.AuxdataRegion{}, false
	}
	return domain.AuxdataRegion{
		Offset: start,
		Value:  "0x" + hex.EncodeToString(region),
	}, true
}

// AuxdataFields is the decoded content of a CBOR auxdata trailer.
type AuxdataFields struct {
	IPFS         []byte
	Bzzr0        []byte
	Bzzr1        []byte
	SolcVersion  []byte
	Experimental bool
}

// DecodeAuxdata parses the CBOR document of an auxdata region (the trailing
// two length bytes are tolerated and stripped).
func (a *Analyzer) DecodeAuxdata(region []byte) (*AuxdataFields, error) {
	if len(region) < 2 {
		return nil, fmt.Errorf("auxdata region too short")
	}
	doc := region
	cborLen := int(region[len(region)-2])<<8 | int(region[len(region)-1])
	if cborLen == len(region)-2 {
		doc = region[:len(region)-2]
	}

	var m map[string]cbor.RawMessage
	if err := cbor.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("auxdata is not a CBOR map: %w", err)
	}

	fields := &AuxdataFields{}
	for key, raw := range m {
		switch key {
		case "ipfs":
			_ = cbor.Unmarshal(raw, &fields.IPFS)
		case "bzzr0":
			_ = cbor.Unmarshal(raw, &fields.Bzzr0)
		case "bzzr1":
			_ = cbor.Unmarshal(raw, &fields.Bzzr1)
		case "solc":
			_ = cbor.Unmarshal(raw, &fields.SolcVersion)
		case "experimental":
			_ = cbor.Unmarshal(raw, &fields.Experimental)
		}
	}
	return fields, nil
}

// ImmutableReferences converts the compiler's immutableReferences section
// into the artifact shape {astId: [{start, length}]}.
func (a *Analyzer) ImmutableReferences(out *domain.DeployedBytecodeOutput) map[string][]domain.LinkReferenceOffset {
	if out == nil || len(out.ImmutableReferences) == 0 {
		return nil
	}
	return out.ImmutableReferences
}

// callProtectionPush is PUSH20 at offset 0: deployed library code guards
// itself by comparing its own address pushed at deploy time.
const callProtectionPush = 0x73

// CallProtectionOffset reports whether the runtime code begins with a PUSH20
// of the zero address, the shape the compiler leaves for a library's
// call-protection address before deployment.
func (a *Analyzer) CallProtectionOffset(recompiledRuntime []byte) (int, bool) {
	if len(recompiledRuntime) < 21 || recompiledRuntime[0] != callProtectionPush {
		return 0, false
	}
	for _, b := range recompiledRuntime[1:21] {
		if b != 0 {
			return 0, false
		}
	}
	// The replaced slice is the 20 address bytes after the PUSH20 opcode.
	return 1, true
}

// Normalize produces the canonical form of a bytecode by zeroing all
// malleable regions. Two normalized bytecodes are compared for equality to
// decide partial matches.
func (a *Analyzer) Normalize(code []byte, artifacts domain.CodeArtifacts) []byte {
	out := make([]byte, len(code))
	copy(out, code)

	for _, region := range artifacts.CborAuxdata {
		value := strings.TrimPrefix(region.Value, "0x")
		zeroRange(out, region.Offset, len(value)/2)
	}
	for _, refs := range artifacts.ImmutableReferences {
		for _, ref := range refs {
			zeroRange(out, ref.Start, ref.Length)
		}
	}
	for _, site := range artifacts.LinkReferences {
		zeroRange(out, site.Offset, site.Length)
	}
	return out
}

func zeroRange(b []byte, offset, length int) {
	if offset < 0 || offset >= len(b) {
		return
	}
	end := offset + length
	if end > len(b) {
		end = len(b)
	}
	for i := offset; i < end; i++ {
		b[i] = 0
	}
}

// ReplaceAt writes value over code at offset, returning false when the slice
// does not fit.
func ReplaceAt(code []byte, offset int, value []byte) bool {
	if offset < 0 || offset+len(value) > len(code) {
		return false
	}
	copy(code[offset:], value)
	return true
}
