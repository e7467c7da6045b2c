package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainproof-org/chainproof/internal/usecase"
)

var gcRetention time.Duration

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Collect orphaned rows and prune expired job payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		pruned, err := application.MaintainStorage.Run(cmd.Context(), usecase.MaintainStorageParams{
			EphemeralRetention: gcRetention,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d job payloads older than %s\n", pruned, gcRetention)
		return nil
	},
}

func init() {
	gcCmd.Flags().DurationVar(&gcRetention, "retention", 24*time.Hour, "Keep job payloads newer than this")
	rootCmd.AddCommand(gcCmd)
}
