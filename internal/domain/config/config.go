package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RuntimeConfig is the shared immutable configuration handed to workers and
// adapters at startup.
type RuntimeConfig struct {
	Server   ServerConfig
	Solc     SolcConfig
	Vyper    VyperConfig
	Database DatabaseConfig

	Chains map[uint64]*ChainConfig

	IPFS IPFSConfig

	MonitorFactories bool
	Monitor          MonitorConfig

	SourcifyServerURLs     []string
	SourcifyRequestOptions RequestOptions
	SimilarityRequestDelay time.Duration

	// Workers is the verification pool size.
	Workers int

	// EtherscanAPIKey is the default key for explorer imports.
	EtherscanAPIKey string
}

// ServerConfig holds the outer HTTP surface knobs.
type ServerConfig struct {
	Port          int
	MaxFileSize   int64
	EnableProfile bool
}

// SolcConfig locates the solidity compiler caches.
type SolcConfig struct {
	SolcBinRepo string
	SolcJsRepo  string
}

// VyperConfig locates the vyper compiler cache.
type VyperConfig struct {
	VyperRepo string
}

// DatabaseConfig holds postgres connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Schema   string
	MaxConns int
}

// DSN renders a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Database),
		"sslmode=disable",
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	if c.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.Schema))
	}
	return strings.Join(parts, " ")
}

// IPFSConfig configures decentralized-storage metadata fetches.
type IPFSConfig struct {
	Enabled  bool
	Gateways []string
	Timeout  time.Duration
	Retries  int
	Headers  map[string]string
}

// RequestOptions bounds retries for sourcify submission requests.
type RequestOptions struct {
	MaxRetries int
	RetryDelay time.Duration
}

// MonitorConfig holds the defaults for per-chain monitor loops.
type MonitorConfig struct {
	BlockInterval       time.Duration
	BlockIntervalFactor float64
	BlockIntervalLower  time.Duration
	BlockIntervalUpper  time.Duration
	// FanOut bounds concurrent bytecode and gateway fetches within a block.
	FanOut int
}

// TraceMode names the tracing RPC an endpoint supports.
type TraceMode string

const (
	TraceModeParity TraceMode = "trace_transaction"
	TraceModeGeth   TraceMode = "debug_traceTransaction"
)

// ChainConfig configures one chain: identity, RPC endpoints and monitoring.
type ChainConfig struct {
	ChainID   uint64
	Name      string
	Supported bool
	RPCs      []RPCEndpointConfig
	// ConfluxscanAPI is an optional address-indexed explorer endpoint used
	// to discover creation transactions when the caller did not supply one.
	ConfluxscanAPI string
	// EtherscanAPI overrides the etherscan v2 base URL for this chain.
	EtherscanAPI string
	// MonitorStartBlock starts the monitor loop above genesis.
	MonitorStartBlock uint64
	// MonitorEnabled opts the chain into block scanning.
	MonitorEnabled bool
}

// TraceSupportedRPCs returns the endpoints that advertise a trace mode.
func (c *ChainConfig) TraceSupportedRPCs() []RPCEndpointConfig {
	var out []RPCEndpointConfig
	for _, rpc := range c.RPCs {
		if rpc.TraceSupport != "" {
			out = append(out, rpc)
		}
	}
	return out
}

// HasTraceSupport reports whether any endpoint can serve traces.
func (c *ChainConfig) HasTraceSupport() bool {
	return len(c.TraceSupportedRPCs()) > 0
}

// RPCEndpointType discriminates plain URLs, authenticated URL templates and
// custom-header requests.
type RPCEndpointType string

const (
	RPCEndpointPlain        RPCEndpointType = ""
	RPCEndpointAPIKey       RPCEndpointType = "ApiKey"
	RPCEndpointFetchRequest RPCEndpointType = "FetchRequest"
)

// RPCEndpointConfig is one entry of a chain's ordered endpoint list.
type RPCEndpointConfig struct {
	Type             RPCEndpointType
	URL              string
	APIKeyEnvName    string
	SubdomainEnvName string
	Headers          map[string]string
	TraceSupport     TraceMode
}

// ResolveURL expands the {API_KEY} and {SUBDOMAIN} template variables from
// the configured environment variable names.
func (e RPCEndpointConfig) ResolveURL() (string, error) {
	url := e.URL
	if e.Type != RPCEndpointAPIKey {
		return url, nil
	}
	if strings.Contains(url, "{API_KEY}") {
		if e.APIKeyEnvName == "" {
			return "", fmt.Errorf("endpoint %s: apiKeyEnvName not set", redact(url))
		}
		key := os.Getenv(e.APIKeyEnvName)
		if key == "" {
			return "", fmt.Errorf("endpoint %s: env %s is empty", redact(url), e.APIKeyEnvName)
		}
		url = strings.ReplaceAll(url, "{API_KEY}", key)
	}
	if strings.Contains(url, "{SUBDOMAIN}") {
		if e.SubdomainEnvName == "" {
			return "", fmt.Errorf("endpoint %s: subDomainEnvName not set", redact(url))
		}
		sub := os.Getenv(e.SubdomainEnvName)
		if sub == "" {
			return "", fmt.Errorf("endpoint %s: env %s is empty", redact(url), e.SubdomainEnvName)
		}
		url = strings.ReplaceAll(url, "{SUBDOMAIN}", sub)
	}
	return url, nil
}

// redact strips query strings so secrets never reach logs or errors.
func redact(url string) string {
	if idx := strings.IndexByte(url, '?'); idx != -1 {
		return url[:idx]
	}
	return url
}
