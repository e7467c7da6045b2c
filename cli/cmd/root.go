package cmd

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chainproof-org/chainproof/internal/app"
	"github.com/chainproof-org/chainproof/internal/config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "chainproof",
	Short: "EVM smart contract source verification service",
	Long: `Chainproof verifies deployed EVM contracts against their source code:
it recompiles submitted sources, compares the bytecode with the chain, and
records perfect or partial matches in a content-addressed store.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A local .env is optional; explicit environment always wins.
		_ = godotenv.Load()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultDir := ".chainproof"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = filepath.Join(home, ".chainproof")
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultDir, "Directory holding config.yaml, chains.yaml and compiler caches")
}

// initApp wires the application for a command. The returned cleanup stops
// the pool and closes the database.
func initApp(cmd *cobra.Command) (*app.App, func(), error) {
	v := config.SetupViper(configDir, cmd)
	return app.InitApp(v)
}
