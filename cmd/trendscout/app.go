package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/trendscout/internal/config"
	"github.com/rewired-gh/trendscout/internal/events"
	"github.com/rewired-gh/trendscout/internal/fetcher"
	"github.com/rewired-gh/trendscout/internal/googletrends"
	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/runner"
	"github.com/rewired-gh/trendscout/internal/storage"
	"github.com/rewired-gh/trendscout/internal/telegram"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg      *config.Config
	store    storage.Store
	runner   *runner.Runner
	trends   *fetcher.Fetcher
	telegram *telegram.Client

	closers []func()
}

// newApp loads configuration and wires storage, the fetcher and the runner.
// Notifiers are only connected when notify is set.
func newApp(ctx context.Context, opts *rootOptions, notify bool) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if opts.ConfigPath != "" {
		logger.Debug("Configuration loaded from %s", opts.ConfigPath)
	}

	a := &app{cfg: cfg}

	a.store, err = storage.Open(ctx, storage.Options{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		DSN:      cfg.Storage.DSN,
		MaxConns: cfg.Storage.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	})

	provider := googletrends.NewClient(cfg.Provider.BaseURL, cfg.Provider.Language, cfg.Provider.Timeout)
	a.trends = fetcher.New(
		provider,
		fetcher.NewLimiter(cfg.Fetcher.RequestsPerMinute),
		fetcher.RetryPolicy{
			MaxAttempts: cfg.Fetcher.MaxAttempts,
			BaseDelay:   cfg.Fetcher.RetryMinDelay,
			MaxDelay:    cfg.Fetcher.RetryMaxDelay,
		},
	)

	runnerOpts := []runner.Option{
		runner.WithEnrichment(cfg.Runner.TimeseriesTop, cfg.Runner.RelatedTop),
	}
	if notify {
		notifiers, err := a.connectNotifiers()
		if err != nil {
			a.Close()
			return nil, err
		}
		runnerOpts = append(runnerOpts, runner.WithNotifiers(notifiers...))
	}

	a.runner = runner.New(a.store, []runner.Source{a.trends}, runnerOpts...)
	return a, nil
}

func (a *app) connectNotifiers() ([]runner.Notifier, error) {
	var notifiers []runner.Notifier

	if a.cfg.Telegram.Enabled {
		tc, err := telegram.NewClient(
			a.cfg.Telegram.BotToken,
			a.cfg.Telegram.ChatID,
			a.cfg.Telegram.MaxRetries,
			a.cfg.Telegram.RetryDelay,
			a.cfg.Telegram.TopN,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.telegram = tc
		notifiers = append(notifiers, tc)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if a.cfg.Events.Enabled {
		nc, err := events.Connect(events.Options{
			URL:            a.cfg.Events.URL,
			MaxReconnects:  a.cfg.Events.MaxReconnects,
			ReconnectWait:  a.cfg.Events.ReconnectWait,
			ConnectTimeout: a.cfg.Events.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("Failed to drain NATS connection: %v", err)
			}
		})
		notifiers = append(notifiers, events.NewNotifier(nc, a.cfg.Events.SubjectPrefix, a.cfg.Events.TopN))
		logger.Info("Publishing run events to %s", a.cfg.Events.URL)
	} else {
		logger.Debug("Run events disabled")
	}

	return notifiers, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
