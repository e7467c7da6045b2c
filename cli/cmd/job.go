package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a verification job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		job, err := application.GetJob.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job %s (%s)\n", job.ID, job.VerificationEndpoint)
		fmt.Printf("  contract: %s on chain %d\n", job.ContractAddress.Hex(), job.ChainID)
		fmt.Printf("  started:  %s\n", job.StartedAt.Format("2006-01-02 15:04:05 MST"))
		switch {
		case job.IsPending():
			fmt.Println("  status:   pending")
		case job.Error != nil:
			fmt.Printf("  status:   failed (%s, error id %s)\n", job.Error.Code, job.Error.ID)
		default:
			fmt.Printf("  status:   completed, verified contract %d\n", *job.VerifiedContractID)
			if job.CompilationTime != nil {
				fmt.Printf("  compile:  %s\n", *job.CompilationTime)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
}
