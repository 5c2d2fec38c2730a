package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"posturewatch/internal/alerts"
	"posturewatch/internal/api"
	"posturewatch/internal/config"
	"posturewatch/internal/engine"
	"posturewatch/internal/ingest"
	"posturewatch/internal/logging"
	"posturewatch/internal/metrics"
	"posturewatch/internal/model"
	"posturewatch/internal/notify"
	"posturewatch/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML or JSON configuration file")
	logFormat := flag.String("log-format", "json", "Log format: json or text")
	watchInterval := flag.Duration("watch", 3*time.Second, "Config file poll interval, 0 disables hot reload")
	flag.Parse()

	if err := run(*configPath, *logFormat, *watchInterval); err != nil {
		fmt.Fprintln(os.Stderr, "posturewatch:", err)
		os.Exit(1)
	}
}

func run(configPath, logFormat string, watchInterval time.Duration) error {
	mgr, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, logFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	logger.Info("starting posturewatch", "version", version, "config", mgr.Path(), "session_id", sessionID)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}
	recorder := storage.NewRecorder(store, cfg.Storage.QueueSize, logger)

	notifier, err := notify.New(ctx, cfg.Notifier, sessionID, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	eng := engine.NewEngine(cfg, engine.Options{
		Logger:    logger,
		Notifier:  notifier,
		Alerts:    alertsStore,
		Metrics:   metricsStore,
		Recorder:  recorder,
		SessionID: sessionID,
	})

	var wg sync.WaitGroup
	recCtx, stopRecorder := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(recCtx)
	}()

	frames := make(chan model.Frame, cfg.Ingest.ChannelBuffer)
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx, frames) }()

	parser := ingest.NewParser()
	ingest.StartREST(ctx, mgr, parser, frames, logger)
	ingest.StartWebSocket(ctx, mgr, parser, frames, logger)
	ingest.StartTCPStream(ctx, mgr, parser, frames, logger)
	ingest.StartFileTail(ctx, mgr, parser, frames, logger)
	ingest.StartKafka(ctx, mgr, parser, frames, logger)
	api.Start(ctx, mgr, metricsStore, alertsStore, eng, logger, version)

	if mgr.Path() != "" && watchInterval > 0 {
		go mgr.Watch(watchInterval, func(next *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
			if err := eng.UpdateConfig(ctx, next); err != nil && !errors.Is(err, engine.ErrStopped) {
				logger.Warn("apply reloaded config failed", "err", err)
			}
		}, func(err error) {
			logger.Warn("config reload failed, keeping previous config", "err", err)
		}, ctx.Done())
	}

	err = <-engineDone
	logger.Info("shutting down", "session_id", sessionID, "cues_played", eng.Status().CuesPlayed)
	stopRecorder()
	wg.Wait()
	if dropped := recorder.Dropped(); dropped > 0 {
		logger.Warn("storage writes dropped", "count", dropped)
	}
	return err
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	mgr, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return mgr, nil
}
