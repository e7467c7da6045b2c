package bytecode

import (
	"bytes"
	"fmt"
)

// ERC-5202 blueprint container: 0xFE71 magic, a version/length byte, an
// optional length-prefixed preamble, then the stored initcode.
var blueprintMagic = []byte{0xFE, 0x71}

// BlueprintPreamble is the parsed header of an ERC-5202 container.
type BlueprintPreamble struct {
	ERCVersion   int
	PreambleData []byte
	InitCode     []byte
}

// IsBlueprint reports whether code starts with the ERC-5202 magic.
func IsBlueprint(code []byte) bool {
	return len(code) > 2 && bytes.HasPrefix(code, blueprintMagic)
}

// ParseBlueprintPreamble splits an ERC-5202 container into version, preamble
// data and initcode.
func ParseBlueprintPreamble(code []byte) (*BlueprintPreamble, error) {
	if !IsBlueprint(code) {
		return nil, fmt.Errorf("not an ERC-5202 blueprint (missing 0xFE71 prefix)")
	}
	versionByte := code[2]
	ercVersion := int(versionByte&0xFC) >> 2
	lengthBits := int(versionByte & 0x03)

	rest := code[3:]
	var preambleData []byte
	if lengthBits > 0 {
		if len(rest) < lengthBits {
			return nil, fmt.Errorf("truncated blueprint preamble length")
		}
		dataLen := 0
		for i := 0; i < lengthBits; i++ {
			dataLen = dataLen<<8 | int(rest[i])
		}
		rest = rest[lengthBits:]
		if len(rest) < dataLen {
			return nil, fmt.Errorf("truncated blueprint preamble data")
		}
		preambleData = rest[:dataLen]
		rest = rest[dataLen:]
	}
	if len(rest) == 0 {
		return nil, fmt.Errorf("blueprint carries no initcode")
	}
	return &BlueprintPreamble{
		ERCVersion:   ercVersion,
		PreambleData: preambleData,
		InitCode:     rest,
	}, nil
}

// BlueprintContainer wraps initcode in a version-0 ERC-5202 container with
// no preamble data, the shape vyper's blueprint deployer stores on chain.
func BlueprintContainer(initCode []byte) []byte {
	out := make([]byte, 0, len(initCode)+3)
	out = append(out, blueprintMagic...)
	out = append(out, 0x00)
	out = append(out, initCode...)
	return out
}
