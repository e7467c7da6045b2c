package bytecode

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// makeAuxdata builds a CBOR auxdata trailer with the trailing two-byte
// length, the way solc appends it.
func makeAuxdata(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	doc, err := cbor.Marshal(fields)
	require.NoError(t, err)
	out := append([]byte{}, doc...)
	out = append(out, byte(len(doc)>>8), byte(len(doc)))
	return out
}

func TestTailScanFindsAuxdata(t *testing.T) {
	aux := makeAuxdata(t, map[string]any{
		"ipfs": []byte{0x12, 0x20, 0xaa, 0xbb},
		"solc": []byte{0, 8, 4},
	})
	code := append([]byte{0x60, 0x80, 0x60, 0x40, 0x52}, aux...)

	region, ok := NewAnalyzer().TailScan(code)
	require.True(t, ok)
	assert.Equal(t, 5, region.Offset)
	assert.Equal(t, "0x"+hex.EncodeToString(aux), region.Value)
}

func TestTailScanRejectsGarbage(t *testing.T) {
	a := NewAnalyzer()

	_, ok := a.TailScan([]byte{0x60, 0x80, 0x60, 0x40})
	assert.False(t, ok, "length bytes pointing past the bytecode")

	// Valid length bytes but the region is not CBOR.
	code := []byte{0x60, 0x80, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x04}
	_, ok = a.TailScan(code)
	assert.False(t, ok)
}

func TestDecodeAuxdataFields(t *testing.T) {
	aux := makeAuxdata(t, map[string]any{
		"ipfs":  []byte{0x12, 0x20, 0x01},
		"bzzr1": []byte{0xfe},
		"solc":  []byte{0, 8, 21},
	})

	fields, err := NewAnalyzer().DecodeAuxdata(aux)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x20, 0x01}, fields.IPFS)
	assert.Equal(t, []byte{0xfe}, fields.Bzzr1)
	assert.Equal(t, []byte{0, 8, 21}, fields.SolcVersion)
}

func TestCollectAuxdatasWalksNestedAssemblies(t *testing.T) {
	legacy := json.RawMessage(`{
		".code": [],
		".data": {
			"0": {
				".auxdata": "a26469706673aabb",
				".data": {
					"0": {".auxdata": "a26469706673ccdd"}
				}
			}
		}
	}`)

	auxdatas := NewAnalyzer().CollectAuxdatas(legacy)
	require.Len(t, auxdatas, 2)
	assert.Contains(t, auxdatas, "a26469706673aabb")
	assert.Contains(t, auxdatas, "a26469706673ccdd")
}

func TestFindAuxdataRegions(t *testing.T) {
	aux := "a26469706673aabb"
	auxBytes, _ := hex.DecodeString(aux)
	code := append([]byte{0x60, 0x80}, auxBytes...)

	regions := NewAnalyzer().FindAuxdataRegions(code, []string{aux, "deadbeef"})
	require.Len(t, regions, 1)
	assert.Equal(t, 2, regions["1"].Offset)
	assert.Equal(t, "0x"+aux, regions["1"].Value)
}

func TestFindLinkSites(t *testing.T) {
	placeholder := "__$" + strings.Repeat("ab", 17) + "$__"
	bytecodeHex := "6080" + placeholder + "6040"

	sites := NewAnalyzer().FindLinkSites(bytecodeHex)
	require.Len(t, sites, 1)
	assert.Equal(t, 2, sites[0].Offset)
	assert.Equal(t, 20, sites[0].Length)
	assert.Equal(t, placeholder, sites[0].Placeholder)
}

func TestFindLinkSitesLegacyStyle(t *testing.T) {
	// Pre-0.5 placeholders: the library name padded to 40 characters.
	placeholder := "__StringUtils" + strings.Repeat("_", 40-len("__StringUtils"))
	require.Len(t, placeholder, 40)

	sites := NewAnalyzer().FindLinkSites("6001" + placeholder)
	require.Len(t, sites, 1)
	assert.Equal(t, 2, sites[0].Offset)
	assert.Equal(t, 20, sites[0].Length)
}

func TestDecodeCompiledZeroesPlaceholders(t *testing.T) {
	placeholder := "__$" + strings.Repeat("ab", 17) + "$__"
	raw, sites, err := NewAnalyzer().DecodeCompiled("0x6080" + placeholder + "6040")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Len(t, raw, 24)
	for i := 2; i < 22; i++ {
		assert.Zero(t, raw[i])
	}
	assert.Equal(t, byte(0x60), raw[22])
}

func TestNormalizeZeroesMalleableRegions(t *testing.T) {
	code := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	artifacts := domain.CodeArtifacts{
		CborAuxdata: map[string]domain.AuxdataRegion{
			"1": {Offset: 8, Value: "0xdead"},
		},
		ImmutableReferences: map[string][]domain.LinkReferenceOffset{
			"5": {{Start: 2, Length: 2}},
		},
		LinkReferences: []domain.LinkSite{{Offset: 5, Length: 1}},
	}

	normalized := NewAnalyzer().Normalize(code, artifacts)
	assert.Equal(t, []byte{1, 2, 0, 0, 5, 0, 7, 8, 0, 0}, normalized)
	// Input untouched.
	assert.Equal(t, byte(3), code[2])
}

func TestCallProtectionOffset(t *testing.T) {
	a := NewAnalyzer()

	lib := append([]byte{0x73}, make([]byte, 20)...)
	lib = append(lib, 0x30, 0x14)
	offset, ok := a.CallProtectionOffset(lib)
	require.True(t, ok)
	assert.Equal(t, 1, offset)

	// A deployed library carries its real address, not zeroes.
	deployed := append([]byte{0x73}, []byte{0xaa}...)
	deployed = append(deployed, make([]byte, 19)...)
	_, ok = a.CallProtectionOffset(deployed)
	assert.False(t, ok)

	_, ok = a.CallProtectionOffset([]byte{0x60, 0x80})
	assert.False(t, ok)
}

func TestBlueprintRoundTrip(t *testing.T) {
	initCode := []byte{0x60, 0x80, 0x60, 0x40, 0x52}

	preamble, err := ParseBlueprintPreamble(BlueprintContainer(initCode))
	require.NoError(t, err)
	assert.Equal(t, 0, preamble.ERCVersion)
	assert.Nil(t, preamble.PreambleData)
	assert.Equal(t, initCode, preamble.InitCode)
}

func TestBlueprintWithPreambleData(t *testing.T) {
	// Version 1, one length byte, three bytes of preamble data.
	code := []byte{0xFE, 0x71, 0x05, 0x03, 0xaa, 0xbb, 0xcc, 0x60, 0x80}

	preamble, err := ParseBlueprintPreamble(code)
	require.NoError(t, err)
	assert.Equal(t, 1, preamble.ERCVersion)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, preamble.PreambleData)
	assert.Equal(t, []byte{0x60, 0x80}, preamble.InitCode)
}

func TestParseBlueprintErrors(t *testing.T) {
	_, err := ParseBlueprintPreamble([]byte{0x60, 0x80})
	assert.Error(t, err)

	_, err = ParseBlueprintPreamble([]byte{0xFE, 0x71, 0x00})
	assert.Error(t, err, "no initcode")

	_, err = ParseBlueprintPreamble([]byte{0xFE, 0x71, 0x01, 0x09, 0x01})
	assert.Error(t, err, "truncated preamble data")
}
