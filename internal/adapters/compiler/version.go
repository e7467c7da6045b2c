package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed compiler version, e.g. "0.8.21+commit.d9974bed".
type Version struct {
	Major, Minor, Patch int
	Commit              string
}

var versionRe = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:\+commit\.([0-9a-f]+))?`)

// ParseVersion parses a solc-style version string. The leading "v" and any
// "+commit.<hash>" suffix are accepted.
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, fmt.Errorf("unparseable compiler version %q", s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch, Commit: m[4]}, nil
}

// Compare returns -1, 0 or 1 ordering v against other.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return sign(v.Major - other.Major)
	}
	if v.Minor != other.Minor {
		return sign(v.Minor - other.Minor)
	}
	return sign(v.Patch - other.Patch)
}

// AtLeast reports v >= (major, minor, patch).
func (v Version) AtLeast(major, minor, patch int) bool {
	return v.Compare(Version{Major: major, Minor: minor, Patch: patch}) >= 0
}

// Is reports an exact (major, minor, patch) version.
func (v Version) Is(major, minor, patch int) bool {
	return v.Major == major && v.Minor == minor && v.Patch == patch
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Commit != "" {
		s += "+commit." + v.Commit
	}
	return s
}

// HasNativeBinary reports whether native solc builds exist for the version.
// Solidity < 0.4.11 predates standard JSON and is rejected outright.
func (v Version) HasNativeBinary() bool {
	return v.AtLeast(0, 4, 11)
}

// HasLegacyAssemblyAuxdata reports whether legacyAssembly carries .auxdata
// fields; older versions require tail-scanning the bytecode.
func (v Version) HasLegacyAssemblyAuxdata() bool {
	return v.AtLeast(0, 4, 12)
}

// HasExtraFileInputBug reports the solc releases whose metadata-derived
// compilations can silently change bytecode when non-metadata sources are
// omitted from the input.
func (v Version) HasExtraFileInputBug() bool {
	return v.Is(0, 6, 12) || v.Is(0, 7, 0)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
