package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run only the chain monitors, without the worker pool",
	Long: `Watch the configured chains for new contract deployments, assemble
their sources from IPFS and submit them to the configured verification
servers. Chains opt in with monitor_enabled in chains.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application.Log.Info("starting chain monitors")
		application.Monitor.Run(ctx)
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
