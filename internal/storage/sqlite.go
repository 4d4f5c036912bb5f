package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loglens/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:loglens.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_level ON events(level)`,
		`CREATE TABLE IF NOT EXISTS metric_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric_name TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			value REAL NOT NULL,
			grouped_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_metric_end ON metric_results(metric_name, window_end)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL,
			baseline_mean REAL NOT NULL,
			baseline_std REAL NOT NULL,
			z_score REAL NOT NULL,
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

func sqliteTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, level, source, message, metadata_json)
		VALUES (?, ?, ?, ?, ?)`,
		sqliteTime(ev.Timestamp),
		string(ev.Level),
		ev.Source,
		ev.Message,
		encodeJSON(ev.Metadata),
	)
	return err
}

func (s *sqliteStore) SaveResult(ctx context.Context, res model.MetricResult) error {
	if s.db == nil {
		return nil
	}
	var grouped any
	if len(res.GroupedValues) > 0 {
		grouped = encodeJSON(res.GroupedValues)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_results (metric_name, window_start, window_end, value, grouped_json)
		VALUES (?, ?, ?, ?, ?)`,
		res.MetricName,
		sqliteTime(res.WindowStart),
		sqliteTime(res.WindowEnd),
		res.Value,
		grouped,
	)
	return err
}

func (s *sqliteStore) SaveAnomaly(ctx context.Context, rec model.AnomalyRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anomalies (ts, metric_name, value, baseline_mean, baseline_std, z_score, direction, severity, explanation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sqliteTime(rec.Timestamp),
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

func (s *sqliteStore) ListAnomalies(ctx context.Context, metric string, since time.Time, limit int) ([]model.AnomalyRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	query := `SELECT ts, metric_name, value, baseline_mean, baseline_std, z_score, direction, severity, explanation
		FROM anomalies WHERE ts >= ?`
	args := []any{sqliteTime(since)}
	if metric != "" {
		query += ` AND metric_name = ?`
		args = append(args, metric)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var rec model.AnomalyRecord
		var ts, direction, severity string
		var explanation sql.NullString
		if err := rows.Scan(&ts, &rec.MetricName, &rec.Value, &rec.BaselineMean, &rec.BaselineStd, &rec.ZScore, &direction, &severity, &explanation); err != nil {
			return nil, err
		}
		rec.Timestamp = parseSQLiteTime(ts)
		rec.Direction = model.Direction(direction)
		rec.Severity = model.Severity(severity)
		rec.Explanation = explanation.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MetricSeries(ctx context.Context, metric string, since time.Time, limit int) ([]model.MetricResult, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_name, window_start, window_end, value, grouped_json
		FROM metric_results WHERE metric_name = ? AND window_end >= ?
		ORDER BY window_end ASC LIMIT ?`,
		metric, sqliteTime(since), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MetricResult
	for rows.Next() {
		var res model.MetricResult
		var start, end string
		var grouped sql.NullString
		if err := rows.Scan(&res.MetricName, &start, &end, &res.Value, &grouped); err != nil {
			return nil, err
		}
		res.WindowStart = parseSQLiteTime(start)
		res.WindowEnd = parseSQLiteTime(end)
		res.GroupedValues = decodeGrouped(grouped)
		out = append(out, res)
	}
	return out, rows.Err()
}

// sqliteBucketExpr truncates the RFC3339 window_start text down to the
// bucket boundary, keeping the result parseable as RFC3339.
func sqliteBucketExpr(unit string) string {
	switch unit {
	case "minute":
		return "strftime('%Y-%m-%dT%H:%M:00Z', window_start)"
	case "day":
		return "strftime('%Y-%m-%dT00:00:00Z', window_start)"
	}
	return "strftime('%Y-%m-%dT%H:00:00Z', window_start)"
}

func (s *sqliteStore) MetricBuckets(ctx context.Context, metric, bucket, agg string, since time.Time, limit int) ([]MetricBucket, error) {
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
	query := `SELECT ` + sqliteBucketExpr(unit) + ` AS bucket, ` + aggExpr + `, COUNT(*)
		FROM metric_results
		WHERE metric_name = ? AND window_start >= ? AND grouped_json IS NULL
		GROUP BY bucket ORDER BY bucket ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, metric, sqliteTime(since), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricBucket
	for rows.Next() {
		var b MetricBucket
		var ts string
		if err := rows.Scan(&ts, &b.Value, &b.Count); err != nil {
			return nil, err
		}
		b.Bucket = parseSQLiteTime(ts)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) EventCountsByLevel(ctx context.Context, since time.Time) (map[string]int64, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM events WHERE ts >= ? GROUP BY level`,
		sqliteTime(since))
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
