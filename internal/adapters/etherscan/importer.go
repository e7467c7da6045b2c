package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/wire"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

const defaultAPIBase = "https://api.etherscan.io/v2/api"

// Importer wraps any block explorer exposing Etherscan v2's getsourcecode
// API and normalizes its three response shapes into a standard JSON input.
type Importer struct {
	log           *slog.Logger
	http          *retryablehttp.Client
	chains        map[uint64]*config.ChainConfig
	defaultAPIKey string
	vyperVersions *VyperVersionCache
}

// NewImporter builds an explorer importer from runtime configuration.
func NewImporter(cfg *config.RuntimeConfig, vyperVersions *VyperVersionCache, log *slog.Logger) *Importer {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &Importer{
		log:           log.With("component", "EtherscanImporter"),
		http:          client,
		chains:        cfg.Chains,
		defaultAPIKey: cfg.EtherscanAPIKey,
		vyperVersions: vyperVersions,
	}
}

// apiEnvelope is the outer etherscan response.
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// sourceCodeResult is result[0] of a getsourcecode response.
type sourceCodeResult struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
	LicenseType          string `json:"LicenseType"`
}

// Fetch retrieves and normalizes the verified sources of a contract.
func (i *Importer) Fetch(ctx context.Context, chainID uint64, address string, apiKey string) (*domain.ImportedContract, error) {
	if apiKey == "" {
		apiKey = i.defaultAPIKey
	}
	base := defaultAPIBase
	if chain, ok := i.chains[chainID]; ok && chain.EtherscanAPI != "" {
		base = chain.EtherscanAPI
	}

	q := url.Values{}
	q.Set("chainid", fmt.Sprintf("%d", chainID))
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		code := domain.ErrEtherscanHTTPError
		if resp.StatusCode == http.StatusTooManyRequests {
			code = domain.ErrEtherscanRateLimit
		}
		return nil, domain.NewError(code, map[string]any{"status": resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanAPIError, err, nil)
	}
	if envelope.Status != "1" {
		if strings.Contains(strings.ToLower(string(envelope.Result)), "rate limit") {
			return nil, domain.NewError(domain.ErrEtherscanRateLimit, map[string]any{"message": envelope.Message})
		}
		return nil, domain.NewError(domain.ErrEtherscanAPIError, map[string]any{
			"message": envelope.Message,
			"result":  string(envelope.Result),
		})
	}

	var results []sourceCodeResult
	if err := json.Unmarshal(envelope.Result, &results); err != nil || len(results) == 0 {
		return nil, domain.NewError(domain.ErrEtherscanAPIError, map[string]any{"reason": "empty result"})
	}
	result := results[0]

	if result.SourceCode == "" || strings.Contains(result.ABI, "not verified") {
		return nil, domain.NewError(domain.ErrEtherscanNotVerified, map[string]any{"address": address})
	}

	return i.process(ctx, &result)
}

// process discriminates the SourceCode shape and builds the compilable input.
func (i *Importer) process(ctx context.Context, result *sourceCodeResult) (*domain.ImportedContract, error) {
	isVyper := strings.HasPrefix(result.CompilerVersion, "vyper")

	trimmed := strings.TrimSpace(result.SourceCode)
	switch {
	case strings.HasPrefix(trimmed, "{{"):
		return i.processStandardJSON(ctx, result, trimmed)
	case strings.HasPrefix(trimmed, "{"):
		return i.processMultiFile(ctx, result, trimmed)
	default:
		return i.processSingleFile(ctx, result, isVyper)
	}
}

// processStandardJSON unwraps the double-brace form and uses the embedded
// input verbatim.
func (i *Importer) processStandardJSON(ctx context.Context, result *sourceCodeResult, wrapped string) (*domain.ImportedContract, error) {
	inner := wrapped[1 : len(wrapped)-1]
	var input domain.StandardJSONInput
	if err := json.Unmarshal([]byte(inner), &input); err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanAPIError, err, map[string]any{
			"reason": "unparseable standard JSON source",
		})
	}

	isVyper := strings.EqualFold(input.Language, "vyper") || strings.HasPrefix(result.CompilerVersion, "vyper")
	if isVyper && len(input.Settings) == 0 {
		return nil, domain.NewError(domain.ErrEtherscanMissingVyperSettings, map[string]any{
			"contract": result.ContractName,
		})
	}

	path, ok := findContractPath(input.Sources, result.ContractName, isVyper)
	if !ok {
		return nil, domain.NewError(domain.ErrEtherscanMissingContractInJSON, map[string]any{
			"contract": result.ContractName,
		})
	}

	version, language, err := i.resolveVersion(ctx, result.CompilerVersion, isVyper)
	if err != nil {
		return nil, err
	}
	return &domain.ImportedContract{
		Language:        language,
		CompilerVersion: version,
		JSONInput:       &input,
		ContractPath:    path,
		ContractName:    result.ContractName,
	}, nil
}

// processMultiFile handles the {path: {content}} object form.
func (i *Importer) processMultiFile(ctx context.Context, result *sourceCodeResult, raw string) (*domain.ImportedContract, error) {
	isVyper := strings.HasPrefix(result.CompilerVersion, "vyper")

	sources := map[string]domain.SourceFile{}
	if err := json.Unmarshal([]byte(raw), &sources); err != nil {
		// Some explorers wrap multi-file responses in a sources key.
		var wrapper struct {
			Sources map[string]domain.SourceFile `json:"sources"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil || len(wrapper.Sources) == 0 {
			return nil, domain.WrapError(domain.ErrEtherscanAPIError, err, map[string]any{
				"reason": "unparseable multi-file source",
			})
		}
		sources = wrapper.Sources
	}

	path, ok := findContractPath(sources, result.ContractName, isVyper)
	if !ok {
		return nil, domain.NewError(domain.ErrEtherscanMissingContractDefinition, map[string]any{
			"contract": result.ContractName,
		})
	}

	version, language, err := i.resolveVersion(ctx, result.CompilerVersion, isVyper)
	if err != nil {
		return nil, err
	}
	input := &domain.StandardJSONInput{
		Language: compilerLanguage(isVyper),
		Sources:  sources,
		Settings: i.settingsFromResult(result, isVyper),
	}
	return &domain.ImportedContract{
		Language:        language,
		CompilerVersion: version,
		JSONInput:       input,
		ContractPath:    path,
		ContractName:    result.ContractName,
	}, nil
}

// processSingleFile synthesizes a one-file input from a raw source body.
func (i *Importer) processSingleFile(ctx context.Context, result *sourceCodeResult, isVyper bool) (*domain.ImportedContract, error) {
	ext := ".sol"
	if isVyper {
		ext = ".vy"
	}
	path := result.ContractName + ext

	version, language, err := i.resolveVersion(ctx, result.CompilerVersion, isVyper)
	if err != nil {
		return nil, err
	}
	input := &domain.StandardJSONInput{
		Language: compilerLanguage(isVyper),
		Sources:  map[string]domain.SourceFile{path: {Content: result.SourceCode}},
		Settings: i.settingsFromResult(result, isVyper),
	}
	return &domain.ImportedContract{
		Language:        language,
		CompilerVersion: version,
		JSONInput:       input,
		ContractPath:    path,
		ContractName:    result.ContractName,
	}, nil
}

// resolveVersion normalizes the explorer's CompilerVersion: strips the "v"
// prefix for solidity, maps "vyper:x.y.z" through the release mirror.
func (i *Importer) resolveVersion(ctx context.Context, raw string, isVyper bool) (string, domain.Language, error) {
	if isVyper {
		short := strings.TrimPrefix(raw, "vyper:")
		long, err := i.vyperVersions.Resolve(ctx, short)
		if err != nil {
			return "", "", domain.WrapError(domain.ErrEtherscanVyperVersionMappingFailed, err, map[string]any{
				"version": raw,
			})
		}
		return long, domain.LanguageVyper, nil
	}
	return strings.TrimPrefix(raw, "v"), domain.LanguageSolidity, nil
}

// settingsFromResult synthesizes compiler settings from the flat explorer
// fields when no standard JSON was provided.
func (i *Importer) settingsFromResult(result *sourceCodeResult, isVyper bool) json.RawMessage {
	settings := map[string]any{}
	if isVyper {
		if result.EVMVersion != "" && !strings.EqualFold(result.EVMVersion, "default") {
			settings["evmVersion"] = result.EVMVersion
		}
		settings["outputSelection"] = map[string]any{"*": []string{"evm.bytecode", "evm.deployedBytecode"}}
	} else {
		optimizer := map[string]any{"enabled": result.OptimizationUsed == "1"}
		if result.Runs != "" {
			optimizer["runs"] = atoiOr(result.Runs, 200)
		}
		settings["optimizer"] = optimizer
		if result.EVMVersion != "" && !strings.EqualFold(result.EVMVersion, "default") {
			settings["evmVersion"] = result.EVMVersion
		}
		settings["outputSelection"] = map[string]any{"*": map[string]any{"*": []string{
			"abi", "evm.bytecode", "evm.deployedBytecode", "metadata",
		}}}
	}
	raw, _ := json.Marshal(settings)
	return raw
}

func compilerLanguage(isVyper bool) string {
	if isVyper {
		return "Vyper"
	}
	return "Solidity"
}

// findContractPath scans source contents for the definition of the named
// contract.
func findContractPath(sources map[string]domain.SourceFile, name string, isVyper bool) (string, bool) {
	if name == "" {
		return "", false
	}
	if isVyper {
		// Vyper has no in-source contract name; match by file basename.
		for path := range sources {
			base := path
			if idx := strings.LastIndexByte(base, '/'); idx != -1 {
				base = base[idx+1:]
			}
			if strings.TrimSuffix(base, ".vy") == name {
				return path, true
			}
		}
		// Single-source inputs are unambiguous.
		if len(sources) == 1 {
			for path := range sources {
				return path, true
			}
		}
		return "", false
	}

	re := regexp.MustCompile(`(?m)^\s*(abstract\s+)?(contract|library|interface)\s+` + regexp.QuoteMeta(name) + `\b`)
	for path, src := range sources {
		if re.MatchString(src.Content) {
			return path, true
		}
	}
	return "", false
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// ImporterSet provides the importer to wire.
var ImporterSet = wire.NewSet(
	NewVyperVersionCache,
	NewImporter,
	wire.Bind(new(usecase.ExplorerImporter), new(*Importer)),
)
