package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"loglens/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/loglens?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_level ON events(level)`,
		`CREATE TABLE IF NOT EXISTS metric_results (
			id BIGSERIAL PRIMARY KEY,
			metric_name TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			grouped_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_metric_end ON metric_results(metric_name, window_end)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			metric_name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			baseline_mean DOUBLE PRECISION NOT NULL,
			baseline_std DOUBLE PRECISION NOT NULL,
			z_score DOUBLE PRECISION NOT NULL,
			direction TEXT NOT NULL,
			severity TEXT NOT NULL,
			explanation TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_ts ON anomalies(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_metric ON anomalies(metric_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, level, source, message, metadata_json)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.Timestamp.UTC(),
		string(ev.Level),
		ev.Source,
		ev.Message,
		encodeJSON(ev.Metadata),
	)
	return err
}

func (s *postgresStore) SaveResult(ctx context.Context, res model.MetricResult) error {
	if s.db == nil {
		return nil
	}
	var grouped any
	if len(res.GroupedValues) > 0 {
		grouped = encodeJSON(res.GroupedValues)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_results (metric_name, window_start, window_end, value, grouped_json)
		VALUES ($1, $2, $3, $4, $5)`,
		res.MetricName,
		res.WindowStart.UTC(),
		res.WindowEnd.UTC(),
		res.Value,
		grouped,
	)
	return err
}

func (s *postgresStore) SaveAnomaly(ctx context.Context, rec model.AnomalyRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies (ts, metric_name, value, baseline_mean, baseline_std, z_score, direction, severity, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Timestamp.UTC(),
		rec.MetricName,
		rec.Value,
		rec.BaselineMean,
		rec.BaselineStd,
		rec.ZScore,
		string(rec.Direction),
		string(rec.Severity),
		rec.Explanation,
	)
	return err
}

func (s *postgresStore) ListAnomalies(ctx context.Context, metric string, since time.Time, limit int) ([]model.AnomalyRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	query := `SELECT ts, metric_name, value, baseline_mean, baseline_std, z_score, direction, severity, explanation
		FROM anomalies WHERE ts >= $1`
	args := []any{since.UTC()}
	if metric != "" {
		query += ` AND metric_name = $2 ORDER BY ts DESC LIMIT $3`
		args = append(args, metric, clampLimit(limit))
	} else {
		query += ` ORDER BY ts DESC LIMIT $2`
		args = append(args, clampLimit(limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var rec model.AnomalyRecord
		var direction, severity string
		var explanation sql.NullString
		if err := rows.Scan(&rec.Timestamp, &rec.MetricName, &rec.Value, &rec.BaselineMean, &rec.BaselineStd, &rec.ZScore, &direction, &severity, &explanation); err != nil {
			return nil, err
		}
		rec.Direction = model.Direction(direction)
		rec.Severity = model.Severity(severity)
		rec.Explanation = explanation.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) MetricSeries(ctx context.Context, metric string, since time.Time, limit int) ([]model.MetricResult, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_name, window_start, window_end, value, grouped_json
		FROM metric_results WHERE metric_name = $1 AND window_end >= $2
		ORDER BY window_end ASC LIMIT $3`,
		metric, since.UTC(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricResult
	for rows.Next() {
		var res model.MetricResult
		var grouped sql.NullString
		if err := rows.Scan(&res.MetricName, &res.WindowStart, &res.WindowEnd, &res.Value, &grouped); err != nil {
			return nil, err
		}
		res.GroupedValues = decodeGrouped(grouped)
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *postgresStore) MetricBuckets(ctx context.Context, metric, bucket, agg string, since time.Time, limit int) ([]MetricBucket, error) {
	if s.db == nil {
		return nil, nil
	}
	unit, err := bucketUnit(bucket)
	if err != nil {
		return nil, err
	}
	aggExpr, err := bucketAggExpr(agg)
	if err != nil {
		return nil, err
	}
	// unit comes from the bucketUnit whitelist, never from the caller raw.
	query := `SELECT date_trunc('` + unit + `', window_start) AS bucket, ` + aggExpr + `, COUNT(*)
		FROM metric_results
		WHERE metric_name = $1 AND window_start >= $2 AND grouped_json IS NULL
		GROUP BY bucket ORDER BY bucket ASC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, metric, since.UTC(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricBucket
	for rows.Next() {
		var b MetricBucket
		if err := rows.Scan(&b.Bucket, &b.Value, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *postgresStore) EventCountsByLevel(ctx context.Context, since time.Time) (map[string]int64, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM events WHERE ts >= $1 GROUP BY level`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}
