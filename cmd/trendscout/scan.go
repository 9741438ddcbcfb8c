package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
)

// scanOptions holds flags for the scan and analyze commands.
type scanOptions struct {
	*rootOptions
	Source  string
	Regions []string
	Region  string
	Window  string
	Limit   int

	Realtime   bool
	Category   string
	Resolution string
}

func newScanCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &scanOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List trending keywords without a mission",
		Long: `List trending keywords of one or more regions. Nothing is stored.
With --realtime, stories trending right now are listed instead of the daily
trending searches.

Example:
  trendscout scan --regions US,GB --limit 20
  trendscout scan --realtime --category t`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var observations []models.TrendObservation
			if opts.Realtime {
				observations, err = realtimeScan(cmd, a, opts)
			} else {
				observations, err = a.runner.QuickScan(cmd.Context(), opts.Source, opts.Regions, opts.Limit)
			}
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), observations)
			}
			printObservations(cmd.OutOrStdout(), observations)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", models.SourceGoogleTrends, "source code")
	cmd.Flags().StringSliceVar(&opts.Regions, "regions", []string{models.DefaultRegion}, "region codes")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum keywords per region")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "list realtime trending stories")
	cmd.Flags().StringVar(&opts.Category, "category", "all", "realtime category (all, b, e, m, t, s, h)")

	return cmd
}

func realtimeScan(cmd *cobra.Command, a *app, opts *scanOptions) ([]models.TrendObservation, error) {
	if err := checkSource(a, opts.Source); err != nil {
		return nil, err
	}
	regions := opts.Regions
	if len(regions) == 0 {
		regions = []string{models.DefaultRegion}
	}

	out := []models.TrendObservation{}
	for _, region := range regions {
		observations, err := a.trends.FetchRealtimeTrending(cmd.Context(), region, opts.Category, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("realtime %s: %w", region, err)
		}
		out = append(out, observations...)
	}
	return out, nil
}

// checkSource rejects source codes other than the configured provider's.
func checkSource(a *app, source string) error {
	if source != a.trends.Source() {
		return fmt.Errorf("%w: %s", runner.ErrUnknownSource, source)
	}
	return nil
}

func newRegionalCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &scanOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "regional <keyword>",
		Short: "Show a keyword's interest broken down by area",
		Long: `Show how interest in a keyword splits across the sub-areas of a region.
Nothing is stored.

Example:
  trendscout regional golang --region US --resolution REGION --window 30d`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := checkSource(a, opts.Source); err != nil {
				return err
			}
			areas, err := a.trends.FetchInterestByRegion(cmd.Context(), args[0], opts.Region, opts.Resolution, opts.Window)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), areas)
			}
			printRegionInterest(cmd.OutOrStdout(), areas)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", models.SourceGoogleTrends, "source code")
	cmd.Flags().StringVar(&opts.Region, "region", models.DefaultRegion, "region code")
	cmd.Flags().StringVar(&opts.Resolution, "resolution", fetcher.ResolutionCountry, "COUNTRY, REGION, CITY or DMA")
	cmd.Flags().StringVar(&opts.Window, "window", models.Window7Days, "time window (1h, 4h, 24h, 7d, 30d, 90d, 12m)")

	return cmd
}

func newSuggestCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &scanOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "suggest <keyword>",
		Short: "List the provider's topic suggestions for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := checkSource(a, opts.Source); err != nil {
				return err
			}
			suggestions, err := a.trends.FetchSuggestions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), suggestions)
			}
			printSuggestions(cmd.OutOrStdout(), suggestions)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", models.SourceGoogleTrends, "source code")
	return cmd
}

func newAnalyzeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &scanOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze <keyword>...",
		Short: "Score specific keywords",
		Long: `Fetch the interest series and related queries of the given keywords and
print their trend scores. Nothing is stored.

Example:
  trendscout analyze golang rust zig --region US --window 7d`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			observations, err := a.runner.AnalyzeKeywords(cmd.Context(), opts.Source, args, opts.Region, opts.Window)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), observations)
			}
			printObservations(cmd.OutOrStdout(), observations)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", models.SourceGoogleTrends, "source code")
	cmd.Flags().StringVar(&opts.Region, "region", models.DefaultRegion, "region code")
	cmd.Flags().StringVar(&opts.Window, "window", models.Window7Days, "time window (1h, 4h, 24h, 7d, 30d, 90d, 12m)")

	return cmd
}
