package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"loglens/internal/storage"
)

var (
	queryMetric string
	queryLimit  int
	querySince  time.Duration
	queryBucket string
	queryAgg    string
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List stored anomalies (requires storage to be enabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		list, err := store.ListAnomalies(cmd.Context(), queryMetric, time.Now().UTC().Add(-querySince), queryLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"anomalies": list, "count": len(list)})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored events and one metric's history (requires storage)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		since := time.Now().UTC().Add(-querySince)
		counts, err := store.EventCountsByLevel(cmd.Context(), since)
		if err != nil {
			return err
		}
		out := map[string]any{"since": since.Format(time.RFC3339), "events_by_level": counts}
		if queryMetric != "" {
			out["metric"] = queryMetric
			if queryBucket != "" {
				buckets, err := store.MetricBuckets(cmd.Context(), queryMetric, queryBucket, queryAgg, since, queryLimit)
				if err != nil {
					return err
				}
				out["bucket"] = queryBucket
				out["buckets"] = buckets
			} else {
				series, err := store.MetricSeries(cmd.Context(), queryMetric, since, queryLimit)
				if err != nil {
					return err
				}
				out["series"] = series
			}
		}
		return printJSON(out)
	},
}

func openStore(cmd *cobra.Command) (storage.Store, error) {
	manager, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := manager.Get()
	if !cfg.Storage.Enabled {
		return nil, errors.New("storage is disabled in config")
	}
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func printJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func init() {
	for _, cmd := range []*cobra.Command{anomaliesCmd, statsCmd} {
		cmd.Flags().StringVar(&queryMetric, "metric", "", "restrict to one metric")
		cmd.Flags().IntVar(&queryLimit, "limit", 100, "maximum rows to return")
		cmd.Flags().DurationVar(&querySince, "since", 24*time.Hour, "look-back interval")
	}
	statsCmd.Flags().StringVar(&queryBucket, "bucket", "", "bucket the metric series by minute, hour, or day")
	statsCmd.Flags().StringVar(&queryAgg, "agg", "avg", "bucket aggregation: avg, sum, min, max, count")
}
