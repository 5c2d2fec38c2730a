// Package notify plays the posture alert cue.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"posturewatch/internal/config"
)

// Notifier plays one cue at the given volume in [0,1]. Play must not block on
// playback; a cue that is still sounding is cut and restarted.
type Notifier interface {
	Play(ctx context.Context, volume float64) error
	Close() error
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Play(_ context.Context, volume float64) error {
	if n.logger != nil {
		n.logger.Info("posture cue", "volume", volume)
	}
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// Multi plays on every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Play(ctx context.Context, volume float64) error {
	var errs []error
	for _, n := range m {
		if err := n.Play(ctx, volume); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the notifier set described by cfg. With nothing enabled the
// result is a Multi with no members, which plays nothing.
func New(ctx context.Context, cfg config.NotifierConfig, sessionID string, logger *slog.Logger) (Notifier, error) {
	var out Multi
	if cfg.Log {
		out = append(out, NewLogNotifier(logger))
	}
	if cfg.Command.Enabled {
		out = append(out, NewCommandNotifier(cfg.Command, logger))
	}
	if cfg.MQTT.Enabled {
		mq, err := NewMQTTNotifier(ctx, cfg.MQTT, sessionID, logger)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, mq)
	}
	if logger != nil {
		logger.Info("notifiers configured", "log", cfg.Log, "command", cfg.Command.Enabled, "mqtt", cfg.MQTT.Enabled)
	}
	return out, nil
}
