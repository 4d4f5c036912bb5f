// Package storage persists events, metric results, and anomaly records to
// SQLite or Postgres behind a common interface. A nil Store is valid and
// means persistence is disabled.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.Event) error
	SaveResult(ctx context.Context, res model.MetricResult) error
	SaveAnomaly(ctx context.Context, rec model.AnomalyRecord) error

	// ListAnomalies returns anomalies newest first. Empty metric matches all.
	ListAnomalies(ctx context.Context, metric string, since time.Time, limit int) ([]model.AnomalyRecord, error)
	// MetricSeries returns result history for one metric, oldest first.
	MetricSeries(ctx context.Context, metric string, since time.Time, limit int) ([]model.MetricResult, error)
	// MetricBuckets aggregates one metric's scalar results into minute, hour,
	// or day buckets, oldest first. Grouped results are excluded.
	MetricBuckets(ctx context.Context, metric, bucket, agg string, since time.Time, limit int) ([]MetricBucket, error)
	// EventCountsByLevel aggregates stored events per level since the cutoff.
	EventCountsByLevel(ctx context.Context, since time.Time) (map[string]int64, error)
}

// MetricBucket is one row of a bucketed aggregation: the bucket's start
// instant, the aggregated value, and the number of results it covers.
type MetricBucket struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
	Count  int64     `json:"count"`
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeGrouped(raw sql.NullString) map[string]float64 {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 10000
	}
	return limit
}

// ValidateBucket checks a bucket size and aggregation name pair without
// touching the database, so callers can reject bad input up front.
func ValidateBucket(bucket, agg string) error {
	if _, err := bucketUnit(bucket); err != nil {
		return err
	}
	_, err := bucketAggExpr(agg)
	return err
}

// bucketUnit normalizes a bucket size name. Empty defaults to hour.
func bucketUnit(bucket string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(bucket)) {
	case "", "hour":
		return "hour", nil
	case "minute":
		return "minute", nil
	case "day":
		return "day", nil
	}
	return "", fmt.Errorf("unsupported bucket size %q", bucket)
}

// bucketAggExpr maps an aggregation name to its SQL expression. Names are
// whitelisted; the result is interpolated into queries.
func bucketAggExpr(agg string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(agg)) {
	case "", "AVG":
		return "AVG(value)", nil
	case "SUM":
		return "SUM(value)", nil
	case "MIN":
		return "MIN(value)", nil
	case "MAX":
		return "MAX(value)", nil
	case "COUNT":
		return "COUNT(value)", nil
	}
	return "", fmt.Errorf("unsupported bucket aggregation %q", agg)
}
