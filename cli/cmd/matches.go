package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

var (
	matchesChainID uint64
	matchesFilter  string
	matchesAfter   int64
	matchesLimit   int
	matchesDesc    bool
	matchesProps   []string
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Inspect verified contract matches",
}

var matchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List verified matches for a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		summaries, err := application.PaginateMatches.Run(cmd.Context(), usecase.PaginateMatchesParams{
			ChainID:    matchesChainID,
			Filter:     domain.MatchFilter(matchesFilter),
			AfterID:    matchesAfter,
			Limit:      matchesLimit,
			Descending: matchesDesc,
		})
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No matches found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.Style().Options.SeparateRows = false
		t.Style().Options.DrawBorder = false
		t.AppendHeader(table.Row{"ID", "ADDRESS", "RUNTIME", "CREATION", "VERIFIED AT"})
		for _, s := range summaries {
			t.AppendRow(table.Row{
				s.ID,
				s.Address.Hex(),
				styleMatch(s.RuntimeMatch),
				styleMatch(s.CreationMatch),
				s.VerifiedAt.Format("2006-01-02 15:04:05"),
			})
		}
		t.Render()

		last := summaries[len(summaries)-1]
		fmt.Printf("\n%d matches on chain %d, next page: --after %d\n", len(summaries), matchesChainID, last.ID)
		return nil
	},
}

var matchesShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the stored match for an address as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q: %w", args[0], domain.ErrInvalidAddress)
		}
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		props := make([]domain.Property, 0, len(matchesProps))
		for _, p := range matchesProps {
			props = append(props, domain.Property(p))
		}
		match, err := application.GetMatch.Run(cmd.Context(), usecase.GetMatchParams{
			ChainID:    matchesChainID,
			Address:    common.HexToAddress(args[0]),
			Properties: props,
		})
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(match, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var matchesDeleteCmd = &cobra.Command{
	Use:   "delete <address>",
	Short: "Delete the stored match for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q: %w", args[0], domain.ErrInvalidAddress)
		}
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		address := common.HexToAddress(args[0])
		if err := application.MaintainStorage.DeleteMatch(cmd.Context(), matchesChainID, address); err != nil {
			return err
		}
		fmt.Printf("Deleted match for %s on chain %d\n", address.Hex(), matchesChainID)
		return nil
	},
}

func init() {
	matchesCmd.PersistentFlags().Uint64Var(&matchesChainID, "chain", 1, "Chain id")
	matchesListCmd.Flags().StringVar(&matchesFilter, "filter", "any", "full, partial or any")
	matchesListCmd.Flags().Int64Var(&matchesAfter, "after", 0, "Keyset cursor, the id printed by the previous page")
	matchesListCmd.Flags().IntVar(&matchesLimit, "limit", 50, "Page size")
	matchesListCmd.Flags().BoolVar(&matchesDesc, "desc", false, "Newest first")
	matchesShowCmd.Flags().StringSliceVar(&matchesProps, "properties", nil, "Subset of fields to return (default all)")

	matchesCmd.AddCommand(matchesListCmd, matchesShowCmd, matchesDeleteCmd)
	rootCmd.AddCommand(matchesCmd)
}
