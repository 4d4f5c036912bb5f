package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"loglens/internal/alerts"
	"loglens/internal/ingest"
	"loglens/internal/logging"
	"loglens/internal/model"
	"loglens/internal/pipeline"
	"loglens/internal/results"
	"loglens/internal/storage"
	"loglens/internal/telemetry"
)

var (
	ingestStrict bool
	ingestFormat string
	ingestSource string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Analyze log files in one shot and print results and anomalies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := manager.Get()
		logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return err
		}
		if store != nil {
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			defer store.Close()
		}

		resultsStore := results.NewStore(cfg.Results.StoreLimit)
		alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
		tel := telemetry.New(prometheus.NewRegistry())
		pipe, err := pipeline.New(cfg, logger, resultsStore, alertsStore, store, tel)
		if err != nil {
			return err
		}

		ingCfg := cfg.Ingest
		switch ingestFormat {
		case "", "auto", "json", "text":
			if ingestFormat != "" {
				ingCfg.Format = ingestFormat
			}
		default:
			return fmt.Errorf("unknown --format %q", ingestFormat)
		}
		if ingestSource != "" {
			ingCfg.DefaultSource = ingestSource
		}
		parser := ingest.NewParser(ingCfg)
		filter := ingest.NewFilter(ingCfg.Filter)
		strict := ingestStrict || ingCfg.Strict

		var anomalies []model.AnomalyRecord
		totals := ingest.FileStats{}
		for _, path := range args {
			stats, err := ingest.ReadFile(cmd.Context(), path, parser, strict, logger, func(ev model.Event) error {
				if !filter.Admit(ev) {
					tel.IncDropped()
					return nil
				}
				anomalies = append(anomalies, pipe.ProcessEvent(ev)...)
				return nil
			})
			totals.Lines += stats.Lines
			totals.Parsed += stats.Parsed
			totals.Skipped += stats.Skipped
			if err != nil {
				return err
			}
		}
		anomalies = append(anomalies, pipe.Flush()...)

		report := map[string]any{
			"lines":     totals.Lines,
			"parsed":    totals.Parsed,
			"skipped":   totals.Skipped,
			"results":   resultsStore.GetAll(),
			"anomalies": anomalies,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "abort on the first unparseable line")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "", "force line format: json or text (default: auto-detect)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source for events that carry none")
}
