package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/telemetry"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		path := path
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, parser, filter, out, logger, tel)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					// Truncation or rotation: reopen from the start.
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						offset = 0
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			ev, err := parser.ParseLine(line)
			if err != nil || ev == nil {
				continue
			}
			if !filter.Admit(*ev) {
				tel.IncDropped()
				continue
			}
			SendNonBlocking(ctx, out, *ev, logger, tel)
		}
	}
}
