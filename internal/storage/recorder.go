package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"posturewatch/internal/model"
)

const (
	verdictBatchSize  = 64
	verdictFlushEvery = 2 * time.Second
	writeTimeout      = 5 * time.Second
)

// Recorder moves writes off the caller's goroutine. Record calls never block;
// when the queue is full the write is dropped and counted.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	events   chan model.AlertEvent
	verdicts chan VerdictSample
	done     chan struct{}

	mu      sync.Mutex
	dropped int64
}

func NewRecorder(store Store, queueSize int, logger *slog.Logger) *Recorder {
	if store == nil {
		return nil
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		store:    store,
		logger:   logger,
		events:   make(chan model.AlertEvent, queueSize),
		verdicts: make(chan VerdictSample, queueSize),
		done:     make(chan struct{}),
	}
}

func (r *Recorder) RecordEvent(ev model.AlertEvent) {
	if r == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.drop("alert_event")
	}
}

func (r *Recorder) RecordVerdict(s VerdictSample) {
	if r == nil {
		return
	}
	select {
	case r.verdicts <- s:
	default:
		r.drop("verdict")
	}
}

func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) drop(kind string) {
	r.mu.Lock()
	r.dropped++
	n := r.dropped
	r.mu.Unlock()
	if r.logger != nil && (n == 1 || n%100 == 0) {
		r.logger.Warn("storage queue full, dropping write", "kind", kind, "dropped_total", n)
	}
}

// Run writes until ctx is cancelled, then drains what is already queued.
func (r *Recorder) Run(ctx context.Context) {
	if r == nil {
		return
	}
	defer close(r.done)
	ticker := time.NewTicker(verdictFlushEvery)
	defer ticker.Stop()
	batch := make([]VerdictSample, 0, verdictBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.SaveVerdicts(wctx, batch); err != nil && r.logger != nil {
			r.logger.Error("save verdicts failed", "count", len(batch), "err", err)
		}
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case ev := <-r.events:
			r.saveEvent(ev)
		case s := <-r.verdicts:
			batch = append(batch, s)
			if len(batch) >= verdictBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.saveEvent(ev)
				case s := <-r.verdicts:
					batch = append(batch, s)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Wait blocks until Run has drained and returned.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	<-r.done
}

func (r *Recorder) saveEvent(ev model.AlertEvent) {
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.SaveAlertEvent(wctx, ev); err != nil && r.logger != nil {
		r.logger.Error("save alert event failed", "kind", ev.Kind, "err", err)
	}
}
