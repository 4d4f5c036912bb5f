package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"loglens/internal/alerts"
	"loglens/internal/api"
	"loglens/internal/config"
	"loglens/internal/ingest"
	"loglens/internal/logging"
	"loglens/internal/model"
	"loglens/internal/pipeline"
	"loglens/internal/results"
	"loglens/internal/storage"
	"loglens/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analytics pipeline with the configured ingest sources and API",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := manager.Get()
		logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
		logger.Info("starting loglens", "version", version, "config", manager.Path())

		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if store != nil {
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
		}

		resultsStore := results.NewStore(cfg.Results.StoreLimit)
		alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
		registry := prometheus.NewRegistry()
		tel := telemetry.New(registry)

		pipe, err := pipeline.New(cfg, logger, resultsStore, alertsStore, store, tel)
		if err != nil {
			return err
		}

		events := make(chan model.Event, cfg.Ingest.ChannelBuffer)
		pipe.Start(ctx, events)

		parser := ingest.NewParser(cfg.Ingest)
		filter := ingest.NewFilter(cfg.Ingest.Filter)
		ingest.StartREST(ctx, manager, parser, filter, events, logger, tel)
		ingest.StartSyslog(ctx, manager, parser, filter, events, logger, tel)
		ingest.StartFileTail(ctx, manager, parser, filter, events, logger, tel)
		ingest.StartKafka(ctx, manager, parser, filter, events, logger, tel)

		api.Start(ctx, manager, resultsStore, alertsStore, store, pipe, registry, logger, version)

		if manager.Path() != "" {
			stop := make(chan struct{})
			defer close(stop)
			go manager.Watch(3*time.Second,
				func(next *config.Config) {
					logger.Info("config reloaded, metric and ingest changes take effect on restart", "path", manager.Path())
				},
				func(err error) {
					logger.Warn("config reload error", "err", err)
				}, stop)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
		case <-ctx.Done():
		}
		cancel()
		pipe.Flush()
		return nil
	},
}
