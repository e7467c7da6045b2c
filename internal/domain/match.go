package domain

import "sort"

// Match is the verdict for one side (runtime or creation) of a verification.
// The empty value means no match.
type Match string

const (
	MatchPerfect Match = "perfect"
	MatchPartial Match = "partial"
	MatchNone    Match = ""
)

var matchRank = map[Match]int{
	MatchNone:    0,
	MatchPartial: 1,
	MatchPerfect: 2,
}

// Rank orders verdicts: perfect > partial > none.
func (m Match) Rank() int {
	return matchRank[m]
}

// IsMatch reports whether the verdict represents a successful verification.
func (m Match) IsMatch() bool {
	return m == MatchPerfect || m == MatchPartial
}

// BetterThan reports whether the pair (runtime, creation) strictly beats the
// other pair. Runtime verdict dominates; creation breaks ties.
func BetterThan(runtime, creation, otherRuntime, otherCreation Match) bool {
	if runtime.Rank() != otherRuntime.Rank() {
		return runtime.Rank() > otherRuntime.Rank()
	}
	return creation.Rank() > otherCreation.Rank()
}

// MatchFilter selects matches in listings.
type MatchFilter string

const (
	MatchFilterFull    MatchFilter = "full"
	MatchFilterPartial MatchFilter = "partial"
	MatchFilterAny     MatchFilter = "any"
)

// TransformationReason names the malleable region a transformation edits.
type TransformationReason string

const (
	TransformationLibrary              TransformationReason = "library"
	TransformationImmutable            TransformationReason = "immutable"
	TransformationCborAuxdata          TransformationReason = "cborAuxdata"
	TransformationConstructorArguments TransformationReason = "constructorArguments"
	TransformationCallProtection       TransformationReason = "callProtection"
)

var reasonOrder = map[TransformationReason]int{
	TransformationLibrary:              0,
	TransformationImmutable:            1,
	TransformationCborAuxdata:          2,
	TransformationConstructorArguments: 3,
	TransformationCallProtection:       4,
}

// TransformationType distinguishes in-place replacements from appends.
type TransformationType string

const (
	TransformationReplace TransformationType = "replace"
	TransformationInsert  TransformationType = "insert"
)

// Transformation is one named, offset-addressable edit that converts
// recompiled bytecode toward the on-chain bytecode. The concrete bytes live
// in TransformationValues, keyed by Reason and ID.
type Transformation struct {
	Reason TransformationReason `json:"reason"`
	Type   TransformationType   `json:"type"`
	Offset int                  `json:"offset"`
	ID     string               `json:"id,omitempty"`
}

// SortTransformations orders a side's edit log: offset ascending, ties broken
// by reason in declared order.
func SortTransformations(ts []Transformation) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Offset != ts[j].Offset {
			return ts[i].Offset < ts[j].Offset
		}
		return reasonOrder[ts[i].Reason] < reasonOrder[ts[j].Reason]
	})
}

// TransformationValues carries the on-chain bytes observed for each
// transformation, keyed by item identity. Hex strings are 0x-prefixed.
type TransformationValues struct {
	Libraries            map[string]string `json:"libraries,omitempty"`
	Immutables           map[string]string `json:"immutables,omitempty"`
	CborAuxdata          map[string]string `json:"cborAuxdata,omitempty"`
	ConstructorArguments string            `json:"constructorArguments,omitempty"`
	CallProtection       string            `json:"callProtection,omitempty"`
}

// Empty reports whether no values were recorded.
func (v TransformationValues) Empty() bool {
	return len(v.Libraries) == 0 && len(v.Immutables) == 0 &&
		len(v.CborAuxdata) == 0 && v.ConstructorArguments == "" && v.CallProtection == ""
}
