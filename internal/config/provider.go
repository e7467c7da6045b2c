package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// Provider builds the RuntimeConfig for wire dependency injection.
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	cfg := &config.RuntimeConfig{
		Server: config.ServerConfig{
			Port:          v.GetInt("server.port"),
			MaxFileSize:   v.GetInt64("server.max_file_size"),
			EnableProfile: v.GetBool("server.enable_profile"),
		},
		Solc: config.SolcConfig{
			SolcBinRepo: v.GetString("solc.bin_repo"),
			SolcJsRepo:  v.GetString("solc.js_repo"),
		},
		Vyper: config.VyperConfig{
			VyperRepo: v.GetString("vyper.repo"),
		},
		Database: config.DatabaseConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
			Schema:   v.GetString("postgres.schema"),
			MaxConns: v.GetInt("postgres.max_conns"),
		},
		IPFS: config.IPFSConfig{
			Enabled:  v.GetBool("ipfs.enabled"),
			Gateways: v.GetStringSlice("ipfs.gateways"),
			Timeout:  v.GetDuration("ipfs.timeout"),
			Retries:  v.GetInt("ipfs.retries"),
			Headers:  v.GetStringMapString("ipfs.headers"),
		},
		MonitorFactories: v.GetBool("monitor_factories"),
		Monitor: config.MonitorConfig{
			BlockInterval:       v.GetDuration("monitor.block_interval"),
			BlockIntervalFactor: v.GetFloat64("monitor.block_interval_factor"),
			BlockIntervalLower:  v.GetDuration("monitor.block_interval_lower"),
			BlockIntervalUpper:  v.GetDuration("monitor.block_interval_upper"),
			FanOut:              v.GetInt("monitor.fan_out"),
		},
		SourcifyServerURLs: v.GetStringSlice("sourcify_server_urls"),
		SourcifyRequestOptions: config.RequestOptions{
			MaxRetries: v.GetInt("sourcify_request.max_retries"),
			RetryDelay: v.GetDuration("sourcify_request.retry_delay"),
		},
		SimilarityRequestDelay: v.GetDuration("similarity_verification.request_delay"),
		Workers:                v.GetInt("workers"),
		EtherscanAPIKey:        v.GetString("etherscan_api_key"),
	}

	chainsFile := v.GetString("chains_file")
	if chainsFile != "" {
		chains, err := LoadChainsFile(chainsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load chains file: %w", err)
		}
		cfg.Chains = chains
	} else {
		cfg.Chains = map[uint64]*config.ChainConfig{}
	}

	return cfg, nil
}

// SetupViper creates and configures the viper instance for a command.
func SetupViper(configDir string, cmd *cobra.Command) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("CHAINPROOF")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("server.port", 5555)
	v.SetDefault("server.max_file_size", int64(30*1024*1024))
	v.SetDefault("solc.bin_repo", filepath.Join(configDir, "compilers", "solc"))
	v.SetDefault("solc.js_repo", filepath.Join(configDir, "compilers", "soljson"))
	v.SetDefault("vyper.repo", filepath.Join(configDir, "compilers", "vyper"))
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "chainproof")
	v.SetDefault("postgres.database", "chainproof")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("chains_file", filepath.Join(configDir, "chains.yaml"))
	v.SetDefault("ipfs.enabled", true)
	v.SetDefault("ipfs.gateways", []string{"https://ipfs.io/ipfs/"})
	v.SetDefault("ipfs.timeout", "30s")
	v.SetDefault("ipfs.retries", 3)
	v.SetDefault("monitor.block_interval", "10s")
	v.SetDefault("monitor.block_interval_factor", 1.1)
	v.SetDefault("monitor.block_interval_lower", "1s")
	v.SetDefault("monitor.block_interval_upper", "5m")
	v.SetDefault("monitor.fan_out", 8)
	v.SetDefault("sourcify_request.max_retries", 3)
	v.SetDefault("sourcify_request.retry_delay", "5s")
	v.SetDefault("similarity_verification.request_delay", 15*time.Second)
	v.SetDefault("workers", 4)

	// Config file is optional; defaults plus env cover the test setup.
	_ = v.ReadInConfig()

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil {
				panic(err)
			}
		})
	}

	return v
}
