package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/trendscout/internal/models"
)

func newIngestCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &scanOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store trending keywords and their interest series without a mission",
		Long: `Fetch the trending keywords of a region, fetch the interest series of the
top candidates and store both. Running it again updates the same rows.

Example:
  trendscout ingest --region GB --window 30d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner.Ingest(cmd.Context(), opts.Source, opts.Region, opts.Limit, opts.Window, a.cfg.Provider.Language)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printIngestReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", models.SourceGoogleTrends, "source code")
	cmd.Flags().StringVar(&opts.Region, "region", models.DefaultRegion, "region code")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum trending keywords")
	cmd.Flags().StringVar(&opts.Window, "window", models.Window7Days, "time window of the stored series")

	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored keywords",
		Long: `List stored keywords whose normalized form contains the query, most
recently seen first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			keywords, err := a.store.SearchKeywords(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), keywords)
			}
			printKeywords(cmd.OutOrStdout(), keywords)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum keywords")
	return cmd
}

func newKeywordCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyword",
		Short: "Manage stored keywords",
	}
	cmd.AddCommand(newKeywordAddCommand(opts))
	return cmd
}

func newKeywordAddCommand(opts *rootOptions) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "add <keyword>",
		Short: "Store a keyword by hand",
		Long: `Store a keyword so it shows up in searches before any trend data exists.
Adding a keyword that is already stored only refreshes its last-seen time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.store.UpsertKeyword(cmd.Context(), &models.Keyword{Keyword: args[0], Language: language})
			if err != nil {
				return err
			}
			stored, err := a.store.GetKeyword(cmd.Context(), id)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), stored)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored keyword %q (%s) as %s\n", stored.Keyword, stored.Language, stored.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", models.DefaultLanguage, "keyword language")
	return cmd
}

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.store.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), sources)
			}
			printSources(cmd.OutOrStdout(), sources)
			return nil
		},
	}
}

func newRegionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List common region codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format == "json" {
				out := make([]map[string]string, len(models.Regions))
				for i, r := range models.Regions {
					out[i] = map[string]string{"code": r.Code, "name": r.Name}
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			printRegions(cmd.OutOrStdout())
			return nil
		},
	}
}

// statusCheck is one line of the status report.
type statusCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that storage and the trend provider respond",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			checks := runStatusChecks(cmd.Context(), a)
			if opts.Format == "json" {
				if err := printJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				printStatus(cmd.OutOrStdout(), checks)
			}

			var failed []string
			for _, c := range checks {
				if !c.OK {
					failed = append(failed, c.Name)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("unhealthy: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func runStatusChecks(ctx context.Context, a *app) []statusCheck {
	check := func(name string, err error) statusCheck {
		if err != nil {
			return statusCheck{Name: name, Error: err.Error()}
		}
		return statusCheck{Name: name, OK: true}
	}

	_, storeErr := a.store.ListSources(ctx)
	_, providerErr := a.trends.FetchSuggestions(ctx, "test")
	return []statusCheck{
		check("storage", storeErr),
		check("provider "+a.trends.Source(), providerErr),
	}
}
