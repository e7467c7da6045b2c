package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chainproof-org/chainproof/internal/app"
	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

var (
	verifyChainID         uint64
	verifyAddress         string
	verifyTxHash          string
	verifyStdJSON         string
	verifyLanguage        string
	verifyCompilerVersion string
	verifyContract        string
	verifyMetadata        string
	verifySourcesDir      string
	verifyEtherscan       bool
	verifyAPIKey          string
	verifyAsync           bool
)

var (
	perfectStyle = color.New(color.FgGreen, color.Bold)
	partialStyle = color.New(color.FgYellow, color.Bold)
	noneStyle    = color.New(color.Faint)
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a deployed contract against its sources",
	Long: `Verify a deployed contract from one of three inputs:

  --std-json    a solc/vyper standard JSON input file (requires
                --compiler-version and --contract path:Name)
  --metadata    a solc metadata.json file plus --sources directory
  --etherscan   sources imported from the chain's block explorer`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(verifyAddress) {
			return fmt.Errorf("invalid address %q: %w", verifyAddress, domain.ErrInvalidAddress)
		}
		address := common.HexToAddress(verifyAddress)
		var txHash *common.Hash
		if verifyTxHash != "" {
			h := common.HexToHash(verifyTxHash)
			txHash = &h
		}

		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if verifyAsync {
			application.Pool.Start(cmd.Context())
		}

		var result *usecase.VerifyFromJSONInputResult
		switch {
		case verifyStdJSON != "":
			result, err = runStdJSONVerify(cmd, application, address, txHash)
		case verifyMetadata != "":
			result, err = runMetadataVerify(cmd, application, address, txHash)
		case verifyEtherscan:
			result, err = application.VerifyFromExplorer.Run(cmd.Context(), usecase.VerifyFromExplorerParams{
				Request: &domain.ExplorerRequest{ChainID: verifyChainID, Address: address, APIKey: verifyAPIKey},
				Async:   verifyAsync,
			})
		default:
			return fmt.Errorf("one of --std-json, --metadata or --etherscan is required")
		}
		if err != nil {
			return err
		}

		if result.JobID != "" {
			fmt.Printf("Verification job %s enqueued\n", result.JobID)
			return nil
		}
		printVerdict(result.Export)
		return nil
	},
}

func runStdJSONVerify(cmd *cobra.Command, application *app.App, address common.Address, txHash *common.Hash) (*usecase.VerifyFromJSONInputResult, error) {
	if verifyCompilerVersion == "" || verifyContract == "" {
		return nil, fmt.Errorf("--std-json requires --compiler-version and --contract path:Name")
	}
	target, err := splitTarget(verifyContract)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(verifyStdJSON)
	if err != nil {
		return nil, err
	}
	var input domain.StandardJSONInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", verifyStdJSON, err)
	}
	language := domain.Language(strings.ToLower(verifyLanguage))
	if verifyLanguage == "" {
		language = domain.Language(strings.ToLower(input.Language))
	}

	return application.VerifyFromJSONInput.Run(cmd.Context(), usecase.VerifyFromJSONInputParams{
		Request: &domain.JSONInputRequest{
			ChainID:         verifyChainID,
			Address:         address,
			Language:        language,
			CompilerVersion: verifyCompilerVersion,
			Input:           &input,
			Target:          target,
			CreationTxHash:  txHash,
		},
		Async: verifyAsync,
	})
}

func runMetadataVerify(cmd *cobra.Command, application *app.App, address common.Address, txHash *common.Hash) (*usecase.VerifyFromJSONInputResult, error) {
	metadata, err := os.ReadFile(verifyMetadata)
	if err != nil {
		return nil, err
	}
	sources := map[string]string{}
	if verifySourcesDir != "" {
		sources, err = readSourceTree(verifySourcesDir)
		if err != nil {
			return nil, err
		}
	}
	return application.VerifyFromMetadata.Run(cmd.Context(), usecase.VerifyFromMetadataParams{
		Request: &domain.MetadataRequest{
			ChainID:        verifyChainID,
			Address:        address,
			Metadata:       metadata,
			Sources:        sources,
			CreationTxHash: txHash,
		},
		Async: verifyAsync,
	})
}

// readSourceTree loads every regular file under dir, keyed by its relative
// path.
func readSourceTree(dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	return out, err
}

func splitTarget(s string) (domain.CompilationTarget, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return domain.CompilationTarget{}, fmt.Errorf("--contract must be path:Name, got %q", s)
	}
	return domain.CompilationTarget{Path: s[:idx], Name: s[idx+1:]}, nil
}

func printVerdict(export *domain.VerificationExport) {
	fmt.Printf("Contract %s on chain %d\n", export.Address.Hex(), export.ChainID)
	fmt.Printf("  runtime:  %s\n", styleMatch(export.Status.RuntimeMatch))
	fmt.Printf("  creation: %s\n", styleMatch(export.Status.CreationMatch))
	if len(export.LibraryMap) > 0 {
		fmt.Println("  libraries:")
		for name, addr := range export.LibraryMap {
			fmt.Printf("    %s = %s\n", name, addr)
		}
	}
}

func styleMatch(m domain.Match) string {
	switch m {
	case domain.MatchPerfect:
		return perfectStyle.Sprint("perfect")
	case domain.MatchPartial:
		return partialStyle.Sprint("partial")
	default:
		return noneStyle.Sprint("no match")
	}
}

func init() {
	verifyCmd.Flags().Uint64Var(&verifyChainID, "chain", 1, "Chain id")
	verifyCmd.Flags().StringVar(&verifyAddress, "address", "", "Contract address (required)")
	verifyCmd.Flags().StringVar(&verifyTxHash, "tx-hash", "", "Creation transaction hash")
	verifyCmd.Flags().StringVar(&verifyStdJSON, "std-json", "", "Standard JSON input file")
	verifyCmd.Flags().StringVar(&verifyLanguage, "language", "", "solidity, vyper or yul (defaults to the input's language)")
	verifyCmd.Flags().StringVar(&verifyCompilerVersion, "compiler-version", "", "Compiler version, e.g. 0.8.21+commit.d9974bed")
	verifyCmd.Flags().StringVar(&verifyContract, "contract", "", "Compilation target as path:Name")
	verifyCmd.Flags().StringVar(&verifyMetadata, "metadata", "", "Solc metadata.json file")
	verifyCmd.Flags().StringVar(&verifySourcesDir, "sources", "", "Directory with source files for --metadata")
	verifyCmd.Flags().BoolVar(&verifyEtherscan, "etherscan", false, "Import sources from the chain's block explorer")
	verifyCmd.Flags().StringVar(&verifyAPIKey, "api-key", "", "Explorer API key (defaults to configuration)")
	verifyCmd.Flags().BoolVar(&verifyAsync, "async", false, "Enqueue on the worker pool instead of waiting")
	_ = verifyCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(verifyCmd)
}
