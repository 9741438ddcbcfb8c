package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/trendscout/internal/api"
	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
	"github.com/rewired-gh/trendscout/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run active missions on a schedule and serve the HTTP API",
		Long: `Run every ACTIVE mission once at startup and then every
runner.schedule_interval. When api.enabled is set, the HTTP API is served
alongside the scheduler.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, !noSchedule)
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API only")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, schedule bool) error {
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var server *api.Server
	serverErr := make(chan error, 1)
	if a.cfg.API.Enabled {
		server = api.NewServer(api.Options{
			Host:         a.cfg.API.Host,
			Port:         a.cfg.API.Port,
			CorsOrigins:  a.cfg.API.CorsOrigins,
			ReadTimeout:  a.cfg.API.ReadTimeout,
			WriteTimeout: a.cfg.API.WriteTimeout,
		}, a.store, a.runner)

		go func() {
			logger.Info("API listening on %s", server.Addr())
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	} else if !schedule {
		return errors.New("nothing to serve: api is disabled and scheduling is off")
	}

	defer func() {
		if server == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API shutdown failed: %v", err)
		}
	}()

	var ticks <-chan time.Time
	if schedule {
		logger.Info("Starting scheduler (interval: %v)", a.cfg.Runner.ScheduleInterval)
		ticker := time.NewTicker(a.cfg.Runner.ScheduleInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	alerts := &cycleAlerts{telegram: a.telegram}
	if schedule {
		logger.Debug("Running initial cycle")
		alerts.handle(ctx, runCycle(ctx, a.runner))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, cleaning up...")
			logger.Info("Service stopped")
			return nil

		case err := <-serverErr:
			return fmt.Errorf("api server: %w", err)

		case <-ticks:
			logger.Debug("Starting scheduled cycle")
			alerts.handle(ctx, runCycle(ctx, a.runner))
		}
	}
}

// runCycle runs every active mission once. A cycle fails when the missions
// cannot be listed or when every run it started failed.
func runCycle(ctx context.Context, r *runner.Runner) error {
	start := time.Now()
	runs, err := r.RunActive(ctx, models.TriggerScheduled)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	failed := 0
	for _, run := range runs {
		if run.Status == models.RunFailed {
			failed++
		}
	}
	logger.Info("Cycle complete: %d runs, %d failed (%v)", len(runs), failed, time.Since(start).Round(time.Millisecond))

	if len(runs) > 0 && failed == len(runs) && ctx.Err() == nil {
		return fmt.Errorf("all %d mission runs failed", failed)
	}
	return nil
}

// cycleAlerts sends one alert when cycles start failing and one when they
// recover.
type cycleAlerts struct {
	telegram            *telegram.Client
	consecutiveFailures int
}

func (c *cycleAlerts) handle(ctx context.Context, err error) {
	if err != nil {
		c.consecutiveFailures++
		logger.Error("Scheduled cycle failed: %v", err)
		if c.consecutiveFailures == 1 && c.telegram != nil {
			if sendErr := c.telegram.SendError(ctx, err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return
	}

	if c.consecutiveFailures > 0 && c.telegram != nil {
		if sendErr := c.telegram.SendRecovery(ctx, c.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	c.consecutiveFailures = 0
}
