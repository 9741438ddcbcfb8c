package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "trendscout",
		Short: "Track keyword trends and run scan missions",
		Long: `trendscout polls a trend provider for keyword interest, scores and ranks
candidates, and stores mission results without duplicating data across polls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file (defaults plus TRENDSCOUT_* env when empty)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newScanCommand(opts))
	cmd.AddCommand(newAnalyzeCommand(opts))
	cmd.AddCommand(newRegionalCommand(opts))
	cmd.AddCommand(newSuggestCommand(opts))
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newKeywordCommand(opts))
	cmd.AddCommand(newSourcesCommand(opts))
	cmd.AddCommand(newRegionsCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newMissionCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}
