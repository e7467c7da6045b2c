package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification service: worker pool plus chain monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := application.Store.Ping(ctx); err != nil {
			return err
		}

		application.Pool.Start(ctx)
		application.Log.Info("chainproof serving", "workers", application.Config.Workers)

		// Blocks until shutdown; chains without MonitorEnabled simply
		// contribute no loops.
		application.Monitor.Run(ctx)

		<-ctx.Done()
		application.Log.Info("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
