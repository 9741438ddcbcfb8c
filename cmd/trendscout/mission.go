package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/trendscout/internal/models"
)

func newMissionCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
	}

	cmd.AddCommand(newMissionAddCommand(rootOpts))
	cmd.AddCommand(newMissionListCommand(rootOpts))
	cmd.AddCommand(newMissionStatusCommand(rootOpts, "pause", "Stop scheduling a mission", models.MissionInactive))
	cmd.AddCommand(newMissionStatusCommand(rootOpts, "resume", "Schedule a paused mission again", models.MissionActive))
	cmd.AddCommand(newMissionStatusCommand(rootOpts, "archive", "Archive a mission", models.MissionArchived))
	cmd.AddCommand(newMissionRunsCommand(rootOpts))

	return cmd
}

// missionAddOptions holds flags for the mission add command.
type missionAddOptions struct {
	*rootOptions
	Name        string
	Description string
	ConfigJSON  string
	ConfigFile  string
	Inactive    bool
}

func newMissionAddCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &missionAddOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a mission",
		Long: `Create a mission from a JSON mission config. Absent fields take their
defaults (sources GOOGLE_TRENDS, regions US, time window 24h, category 0).

Example:
  trendscout mission add --name "AI watch" \
    --config-json '{"regions":["US","GB"],"keywords_filter":{"include":["ai"]}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.rawConfig()
			if err != nil {
				return err
			}
			cfg, err := models.ParseMissionConfig(raw)
			if err != nil {
				return fmt.Errorf("invalid mission config: %w", err)
			}

			m := &models.Mission{
				Name:        opts.Name,
				Description: opts.Description,
				Status:      models.MissionActive,
				Config:      cfg,
			}
			if opts.Inactive {
				m.Status = models.MissionInactive
			}
			if err := m.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.CreateMission(cmd.Context(), m); err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created mission %s (%s)\n", m.ID, m.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "mission name (required)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "mission description")
	cmd.Flags().StringVar(&opts.ConfigJSON, "config-json", "", "mission config as JSON")
	cmd.Flags().StringVar(&opts.ConfigFile, "config-file", "", "path to a mission config JSON file")
	cmd.Flags().BoolVar(&opts.Inactive, "inactive", false, "create the mission paused")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("config-json", "config-file")

	return cmd
}

func (o *missionAddOptions) rawConfig() ([]byte, error) {
	if o.ConfigFile != "" {
		data, err := os.ReadFile(o.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read mission config: %w", err)
		}
		return data, nil
	}
	return []byte(o.ConfigJSON), nil
}

func newMissionListCommand(rootOpts *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := models.MissionStatus(strings.ToUpper(status))
			if s != "" && !s.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			a, err := newApp(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			missions, err := a.store.ListMissions(cmd.Context(), s)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), missions)
			}
			printMissions(cmd.OutOrStdout(), missions)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only missions with this status (ACTIVE, INACTIVE, ARCHIVED)")
	return cmd
}

func newMissionStatusCommand(rootOpts *rootOptions, use, short string, status models.MissionStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <mission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetMissionStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mission %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func newMissionRunsCommand(rootOpts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <mission-id>",
		Short: "List a mission's recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.store.GetMission(cmd.Context(), args[0]); err != nil {
				return err
			}
			runs, err := a.store.ListMissionRuns(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
