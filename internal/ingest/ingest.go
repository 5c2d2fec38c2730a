// Package ingest receives landmark frames from the pose estimator over REST,
// WebSocket, TCP, file tail, or Kafka and forwards them to the engine.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
	"posturewatch/internal/normalize"
)

// SendNonBlocking drops the frame when out is full.
func SendNonBlocking(ctx context.Context, out chan<- model.Frame, frame model.Frame, logger *slog.Logger) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "source", frame.Source, "timestamp", frame.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// sink parses, normalizes, and forwards raw payloads for one transport.
type sink struct {
	transport string
	cfg       *config.Manager
	parser    *Parser
	out       chan<- model.Frame
	logger    *slog.Logger
}

func newSink(transport string, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *sink {
	if parser == nil {
		parser = NewParser()
	}
	return &sink{transport: transport, cfg: cfg, parser: parser, out: out, logger: logger}
}

// accept returns how many frames were forwarded and how many were rejected.
func (s *sink) accept(ctx context.Context, data []byte) (accepted, failed int) {
	fields, err := s.parser.Parse(data)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("frame parse error", "transport", s.transport, "err", err)
		}
		return 0, 1
	}
	return s.forward(ctx, fields)
}

func (s *sink) forward(ctx context.Context, fields []*normalize.FrameFields) (accepted, failed int) {
	cfg := s.cfg.Get()
	for _, f := range fields {
		frame, err := normalize.Normalize(*f, cfg)
		if err != nil {
			failed++
			if s.logger != nil {
				s.logger.Warn("frame normalize error", "transport", s.transport, "err", err)
			}
			continue
		}
		if SendNonBlocking(ctx, s.out, frame, s.logger) {
			accepted++
		} else {
			failed++
		}
	}
	return accepted, failed
}
