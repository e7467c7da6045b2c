package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainproof-org/chainproof/internal/domain"
)

var (
	sigLookupFunctions []string
	sigLookupEvents    []string
	sigSearchCanonical bool
	sigStatsRefresh    bool
)

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "Manage the function and event signature registry",
}

var signaturesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import signature texts, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var batch []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				batch = append(batch, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		outcomes, err := application.ManageSignatures.Import(cmd.Context(), batch)
		if err != nil {
			return err
		}
		inserted := 0
		for _, o := range outcomes {
			if o.WasInserted {
				inserted++
			}
		}
		fmt.Printf("Imported %d of %d signatures (%d already known or filtered)\n",
			inserted, len(outcomes), len(outcomes)-inserted)
		return nil
	},
}

var signaturesLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve function selectors and event topics to signature texts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(sigLookupFunctions) == 0 && len(sigLookupEvents) == 0 {
			return fmt.Errorf("at least one --function or --event hash is required")
		}
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		lookup, err := application.ManageSignatures.Lookup(cmd.Context(), sigLookupFunctions, sigLookupEvents)
		if err != nil {
			return err
		}
		printLookup("function", lookup.Function)
		printLookup("event", lookup.Event)
		return nil
	},
}

var signaturesSearchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Wildcard search over signature texts, e.g. 'transfer*'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		lookup, err := application.ManageSignatures.Search(cmd.Context(), args[0], sigSearchCanonical)
		if err != nil {
			return err
		}
		printLookup("function", lookup.Function)
		printLookup("event", lookup.Event)
		return nil
	},
}

var signaturesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, cleanup, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := application.ManageSignatures.Stats(cmd.Context(), sigStatsRefresh)
		if err != nil {
			return err
		}
		fmt.Printf("functions: %d\n", stats.FunctionCount)
		fmt.Printf("events:    %d\n", stats.EventCount)
		fmt.Printf("errors:    %d\n", stats.ErrorCount)
		fmt.Printf("unknown:   %d\n", stats.Unknown)
		fmt.Printf("total:     %d (refreshed %s)\n", stats.Total, stats.RefreshedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func printLookup(kind string, byHash map[string][]domain.SignatureEntry) {
	for hash, entries := range byHash {
		for _, e := range entries {
			marker := " "
			if e.HasVerifiedContract {
				marker = "*"
			}
			fmt.Printf("%s %s %s  %s\n", marker, kind, hash, e.Name)
		}
	}
}

func init() {
	signaturesLookupCmd.Flags().StringArrayVar(&sigLookupFunctions, "function", nil, "4-byte selector, 0x-prefixed (repeatable)")
	signaturesLookupCmd.Flags().StringArrayVar(&sigLookupEvents, "event", nil, "32-byte event topic, 0x-prefixed (repeatable)")
	signaturesSearchCmd.Flags().BoolVar(&sigSearchCanonical, "canonical-only", false, "Drop aliases that normalize to another signature")
	signaturesStatsCmd.Flags().BoolVar(&sigStatsRefresh, "refresh", false, "Recompute the counters before reading them")

	signaturesCmd.AddCommand(signaturesImportCmd, signaturesLookupCmd, signaturesSearchCmd, signaturesStatsCmd)
	rootCmd.AddCommand(signaturesCmd)
}
