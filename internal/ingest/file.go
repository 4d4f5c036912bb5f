package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"loglens/internal/model"
)

// FileStats summarizes a one-shot file read.
type FileStats struct {
	Lines   int
	Parsed  int
	Skipped int
}

// ReadFile streams a log file line by line through the parser, calling fn for
// each parsed event. Unparseable lines are skipped unless strict is set, in
// which case the first parse error aborts the read.
func ReadFile(ctx context.Context, path string, parser *Parser, strict bool, logger *slog.Logger, fn func(model.Event) error) (FileStats, error) {
	var stats FileStats
	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		stats.Lines++
		ev, err := parser.ParseLine(scanner.Text())
		if err != nil {
			if strict {
				return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
			}
			stats.Skipped++
			if logger != nil {
				logger.Debug("skipping unparseable line", "path", path, "line", stats.Lines, "err", err)
			}
			continue
		}
		if ev == nil {
			continue
		}
		stats.Parsed++
		if err := fn(*ev); err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", path, err)
	}
	return stats, nil
}
