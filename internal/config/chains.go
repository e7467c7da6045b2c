package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// chainsFile is the YAML document shape of chains.yaml.
type chainsFile struct {
	Chains map[uint64]chainEntry `yaml:"chains"`
}

type chainEntry struct {
	Name           string     `yaml:"name"`
	Supported      bool       `yaml:"supported"`
	RPC            []rpcEntry `yaml:"rpc"`
	ConfluxscanAPI string     `yaml:"confluxscanApi"`
	EtherscanAPI   string     `yaml:"etherscanApi"`
	Monitor        struct {
		Enabled    bool   `yaml:"enabled"`
		StartBlock uint64 `yaml:"startBlock"`
	} `yaml:"monitor"`
}

// rpcEntry accepts either a bare URL string or the structured endpoint shape.
type rpcEntry struct {
	Type             string            `yaml:"type"`
	URL              string            `yaml:"url"`
	APIKeyEnvName    string            `yaml:"apiKeyEnvName"`
	SubdomainEnvName string            `yaml:"subDomainEnvName"`
	Headers          map[string]string `yaml:"headers"`
	TraceSupport     string            `yaml:"traceSupport"`
}

func (r *rpcEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.URL = node.Value
		return nil
	}
	type plain rpcEntry
	return node.Decode((*plain)(r))
}

// LoadChainsFile parses a chains.yaml into per-chain configurations.
func LoadChainsFile(path string) (map[uint64]*config.ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseChains(data)
}

// ParseChains decodes the chains document and validates endpoint shapes.
func ParseChains(data []byte) (map[uint64]*config.ChainConfig, error) {
	var doc chainsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid chains file: %w", err)
	}

	chains := make(map[uint64]*config.ChainConfig, len(doc.Chains))
	for chainID, entry := range doc.Chains {
		cc := &config.ChainConfig{
			ChainID:           chainID,
			Name:              entry.Name,
			Supported:         entry.Supported,
			ConfluxscanAPI:    entry.ConfluxscanAPI,
			EtherscanAPI:      entry.EtherscanAPI,
			MonitorEnabled:    entry.Monitor.Enabled,
			MonitorStartBlock: entry.Monitor.StartBlock,
		}
		for _, rpc := range entry.RPC {
			ep := config.RPCEndpointConfig{
				Type:             config.RPCEndpointType(rpc.Type),
				URL:              rpc.URL,
				APIKeyEnvName:    rpc.APIKeyEnvName,
				SubdomainEnvName: rpc.SubdomainEnvName,
				Headers:          rpc.Headers,
				TraceSupport:     config.TraceMode(rpc.TraceSupport),
			}
			switch ep.Type {
			case config.RPCEndpointPlain, config.RPCEndpointAPIKey, config.RPCEndpointFetchRequest:
			default:
				return nil, fmt.Errorf("chain %d: unknown rpc endpoint type %q", chainID, rpc.Type)
			}
			switch ep.TraceSupport {
			case "", config.TraceModeParity, config.TraceModeGeth:
			default:
				return nil, fmt.Errorf("chain %d: unknown trace mode %q", chainID, rpc.TraceSupport)
			}
			if ep.URL == "" {
				return nil, fmt.Errorf("chain %d: rpc endpoint without url", chainID)
			}
			cc.RPCs = append(cc.RPCs, ep)
		}
		chains[chainID] = cc
	}
	return chains, nil
}
