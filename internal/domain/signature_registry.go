package domain

// SignatureEntry is one registry hit for a queried hash.
type SignatureEntry struct {
	Name                string `json:"name"`
	Filtered            bool   `json:"filtered"`
	HasVerifiedContract bool   `json:"hasVerifiedContract"`
}

// SignatureLookup groups entries by the queried hash, 0x-prefixed.
type SignatureLookup struct {
	Function map[string][]SignatureEntry `json:"function,omitempty"`
	Event    map[string][]SignatureEntry `json:"event,omitempty"`
}

// SignatureInsertOutcome reports the fate of one batch entry.
type SignatureInsertOutcome struct {
	Signature   string `json:"signature"`
	WasInserted bool   `json:"wasInserted"`
}
