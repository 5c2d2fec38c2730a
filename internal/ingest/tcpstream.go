package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

// StartTCPStream accepts newline-delimited JSON frames, one connection per
// estimator process.
func StartTCPStream(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	s := newSink("tcp_stream", cfg, parser, out, logger)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, s)
		}
	}()
	return ln
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, s *sink) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		s.accept(ctx, scanner.Bytes())
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && s.logger != nil {
		s.logger.Warn("tcp stream scanner error", "err", err)
	}
}
