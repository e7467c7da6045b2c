package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

func newTestImporter(t *testing.T, apiURL string) *Importer {
	t.Helper()
	cfg := &config.RuntimeConfig{
		Chains: map[uint64]*config.ChainConfig{
			1: {ChainID: 1, Name: "mainnet", EtherscanAPI: apiURL},
		},
		EtherscanAPIKey: "TESTKEY",
	}
	return NewImporter(cfg, NewVyperVersionCache(slog.Default()), slog.Default())
}

func serveSourceCode(t *testing.T, result sourceCodeResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "getsourcecode", r.URL.Query().Get("action"))
		require.Equal(t, "TESTKEY", r.URL.Query().Get("apikey"))
		raw, err := json.Marshal([]sourceCodeResult{result})
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(apiEnvelope{Status: "1", Message: "OK", Result: raw})
	}))
}

func TestFetchSingleFileSolidity(t *testing.T) {
	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:       "pragma solidity ^0.8.0;\ncontract Token {}",
		ABI:              "[]",
		ContractName:     "Token",
		CompilerVersion:  "v0.8.21+commit.d9974bed",
		OptimizationUsed: "1",
		Runs:             "200",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	got, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.NoError(t, err)

	assert.Equal(t, domain.LanguageSolidity, got.Language)
	assert.Equal(t, "0.8.21+commit.d9974bed", got.CompilerVersion)
	assert.Equal(t, "Token.sol", got.ContractPath)
	assert.Equal(t, "Token", got.ContractName)
	require.Contains(t, got.JSONInput.Sources, "Token.sol")

	var settings map[string]any
	require.NoError(t, json.Unmarshal(got.JSONInput.Settings, &settings))
	optimizer := settings["optimizer"].(map[string]any)
	assert.Equal(t, true, optimizer["enabled"])
	assert.Equal(t, float64(200), optimizer["runs"])
}

func TestFetchMultiFileJSON(t *testing.T) {
	sources := map[string]map[string]string{
		"contracts/Token.sol": {"content": "contract Token is ERC20 {}"},
		"contracts/ERC20.sol": {"content": "contract ERC20 {}"},
	}
	raw, err := json.Marshal(sources)
	require.NoError(t, err)

	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:      string(raw),
		ABI:             "[]",
		ContractName:    "Token",
		CompilerVersion: "v0.8.19+commit.7dd6d404",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	got, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.NoError(t, err)

	assert.Equal(t, "contracts/Token.sol", got.ContractPath)
	assert.Len(t, got.JSONInput.Sources, 2)
}

func TestFetchDoubleBraceStandardJSON(t *testing.T) {
	input := map[string]any{
		"language": "Solidity",
		"sources": map[string]any{
			"src/Vault.sol": map[string]any{"content": "contract Vault {}"},
		},
		"settings": map[string]any{
			"optimizer": map[string]any{"enabled": true, "runs": 999},
		},
	}
	raw, err := json.Marshal(input)
	require.NoError(t, err)

	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:      "{" + string(raw) + "}",
		ABI:             "[]",
		ContractName:    "Vault",
		CompilerVersion: "v0.8.24+commit.e11b9ed9",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	got, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.NoError(t, err)

	assert.Equal(t, "src/Vault.sol", got.ContractPath)

	// Embedded settings survive untouched.
	var settings map[string]any
	require.NoError(t, json.Unmarshal(got.JSONInput.Settings, &settings))
	optimizer := settings["optimizer"].(map[string]any)
	assert.Equal(t, float64(999), optimizer["runs"])
}

func TestFetchContractDefinitionMissing(t *testing.T) {
	sources := map[string]map[string]string{
		"contracts/Other.sol": {"content": "contract Other {}"},
	}
	raw, err := json.Marshal(sources)
	require.NoError(t, err)

	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:      string(raw),
		ABI:             "[]",
		ContractName:    "Token",
		CompilerVersion: "v0.8.19+commit.7dd6d404",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	_, err = imp.Fetch(context.Background(), 1, "0xabc", "")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrEtherscanMissingContractDefinition))
}

func TestFetchNotVerified(t *testing.T) {
	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode: "",
		ABI:        "Contract source code not verified",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	_, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrEtherscanNotVerified))
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(apiEnvelope{
			Status:  "0",
			Message: "NOTOK",
			Result:  json.RawMessage(`"Max rate limit reached"`),
		})
	}))
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	_, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrEtherscanRateLimit))
}

func TestFetchVyperSingleFile(t *testing.T) {
	releases := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"tag_name":"v0.3.10","assets":[{"name":"vyper.0.3.10+commit.91361694.linux"}]}]`)
	}))
	defer releases.Close()

	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:      "# @version 0.3.10\ntotalSupply: public(uint256)",
		ABI:             "[]",
		ContractName:    "Curve",
		CompilerVersion: "vyper:0.3.10",
		EVMVersion:      "paris",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	imp.vyperVersions.listURL = releases.URL

	got, err := imp.Fetch(context.Background(), 1, "0xabc", "")
	require.NoError(t, err)
	assert.Equal(t, domain.LanguageVyper, got.Language)
	assert.Equal(t, "0.3.10+commit.91361694", got.CompilerVersion)
	assert.Equal(t, "Curve.vy", got.ContractPath)

	var settings map[string]any
	require.NoError(t, json.Unmarshal(got.JSONInput.Settings, &settings))
	assert.Equal(t, "paris", settings["evmVersion"])
}

func TestFetchVyperStandardJSONWithoutSettings(t *testing.T) {
	input := map[string]any{
		"language": "Vyper",
		"sources": map[string]any{
			"Pool.vy": map[string]any{"content": "# pool"},
		},
	}
	raw, err := json.Marshal(input)
	require.NoError(t, err)

	srv := serveSourceCode(t, sourceCodeResult{
		SourceCode:      "{" + string(raw) + "}",
		ABI:             "[]",
		ContractName:    "Pool",
		CompilerVersion: "vyper:0.3.7",
	})
	defer srv.Close()

	imp := newTestImporter(t, srv.URL)
	_, err = imp.Fetch(context.Background(), 1, "0xabc", "")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrEtherscanMissingVyperSettings))
}

func TestVyperVersionCacheMissAfterRefresh(t *testing.T) {
	releases := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer releases.Close()

	cache := NewVyperVersionCache(slog.Default())
	cache.listURL = releases.URL

	_, err := cache.Resolve(context.Background(), "9.9.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in release list")
}

func TestFindContractPathMatchesDefinitionNotMention(t *testing.T) {
	sources := map[string]domain.SourceFile{
		"a.sol": {Content: "import \"./b.sol\";\ncontract Wrapper { Token t; }"},
		"b.sol": {Content: "abstract contract Token {}"},
	}
	path, ok := findContractPath(sources, "Token", false)
	require.True(t, ok)
	assert.Equal(t, "b.sol", path)
}
