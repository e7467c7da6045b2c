package domain

// ImportedContract is a compilable normalization of an explorer's verified
// source payload.
type ImportedContract struct {
	Language        Language
	CompilerVersion string
	JSONInput       *StandardJSONInput
	ContractPath    string
	ContractName    string
}
