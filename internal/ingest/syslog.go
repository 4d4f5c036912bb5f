package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/telemetry"
)

func StartSyslog(ctx context.Context, cfg *config.Manager, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	current := cfg.Get().Ingest.Syslog
	if !current.Enabled {
		if logger != nil {
			logger.Info("syslog ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("syslog ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if current.UDPAddr != "" {
		go listenUDP(ctx, current.UDPAddr, parser, filter, out, logger, tel)
	}
	if current.TCPAddr != "" {
		go listenTCP(ctx, current.TCPAddr, parser, filter, out, logger, tel)
	}
}

func listenUDP(ctx context.Context, addr string, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog udp listen error", "err", err)
		}
		return
	}
	defer conn.Close()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if logger != nil {
					logger.Warn("syslog udp read error", "err", err)
				}
				continue
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				processLine(ctx, parser, filter, out, logger, tel, line)
			}
		}
	}
}

func listenTCP(ctx context.Context, addr string, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("syslog tcp listen error", "err", err)
		}
		return
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("syslog tcp accept error", "err", err)
			}
			continue
		}
		go handleTCPConn(ctx, conn, parser, filter, out, logger, tel)
	}
}

func handleTCPConn(ctx context.Context, conn net.Conn, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		processLine(ctx, parser, filter, out, logger, tel, scanner.Text())
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("syslog tcp scanner error", "err", err)
	}
}

func processLine(ctx context.Context, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics, line string) {
	ev, err := parser.ParseLine(line)
	if err != nil || ev == nil {
		return
	}
	if !filter.Admit(*ev) {
		tel.IncDropped()
		return
	}
	SendNonBlocking(ctx, out, *ev, logger, tel)
}
