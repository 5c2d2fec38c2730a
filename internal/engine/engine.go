package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"posturewatch/internal/alerting"
	"posturewatch/internal/alerts"
	"posturewatch/internal/calibration"
	"posturewatch/internal/config"
	"posturewatch/internal/metrics"
	"posturewatch/internal/model"
	"posturewatch/internal/notify"
	"posturewatch/internal/posture"
	"posturewatch/internal/storage"
)

var ErrStopped = errors.New("engine stopped")

const eventQueueSize = 64

type Options struct {
	Logger    *slog.Logger
	Notifier  notify.Notifier
	Alerts    *alerts.Store
	Metrics   *metrics.Store
	Recorder  *storage.Recorder
	Clock     alerting.Clock
	SessionID string
}

// Engine owns one monitoring session. All session state is touched only by
// the goroutine running Run; other goroutines talk to it through events.
type Engine struct {
	logger    *slog.Logger
	notifier  notify.Notifier
	alerts    *alerts.Store
	metrics   *metrics.Store
	recorder  *storage.Recorder
	sessionID string
	cfg       atomic.Value
	status    atomic.Value
	events    chan func()
	done      chan struct{}
	stopped   atomic.Bool

	calibration      *calibration.Store
	scheduler        *alerting.Scheduler
	clock            alerting.Clock
	watchdog         alerting.Timer
	watchdogGen      uint64
	volume           *alerting.Volume
	thresholds       posture.Thresholds
	triggers         posture.Triggers
	latest           *model.Frame
	verdict          model.Verdict
	noDetectionSince time.Time
	dedupe           *DedupeCache
	windows          map[string]*SourceWindows
	framesProcessed  int64
	cuesPlayed       int64
	lastFrameAt      time.Time
	lastSampleAt     time.Time
}

type SourceWindows struct {
	windows map[int]*WindowState
}

func NewEngine(cfg *config.Config, opts Options) *Engine {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Alerts == nil {
		opts.Alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	if opts.Clock == nil {
		opts.Clock = alerting.SystemClock{}
	}
	e := &Engine{
		logger:      opts.Logger,
		notifier:    opts.Notifier,
		alerts:      opts.Alerts,
		metrics:     opts.Metrics,
		recorder:    opts.Recorder,
		sessionID:   opts.SessionID,
		clock:       opts.Clock,
		events:      make(chan func(), eventQueueSize),
		done:        make(chan struct{}),
		calibration: calibration.NewStore(),
		volume:      alerting.NewVolume(cfg.Alert.InitialVolume),
		verdict:     model.Unavailable(time.Time{}),
		dedupe:      NewDedupeCache(),
		windows:     make(map[string]*SourceWindows),
	}
	e.cfg.Store(cfg)
	e.thresholds = posture.ThresholdsFrom(cfg.Classifier)
	e.triggers = posture.TriggersFrom(cfg.Classifier.Triggers)
	e.scheduler = alerting.NewScheduler(opts.Notifier, e.volume, alerting.Options{
		Period:   cfg.Alert.RepeatPeriod,
		Clock:    opts.Clock,
		Dispatch: e.dispatch,
		Logger:   opts.Logger,
		OnCue:    e.onCue,
	})
	e.publish()
	return e
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Status returns the snapshot published after the last handled event.
func (e *Engine) Status() model.Status {
	return e.status.Load().(model.Status)
}

func (e *Engine) Alerts() *alerts.Store {
	return e.alerts
}

func (e *Engine) Metrics() *metrics.Store {
	return e.metrics
}

// Run processes frames and control events until ctx is cancelled. On exit the
// pending cue timer is disarmed and the notifier closed.
func (e *Engine) Run(ctx context.Context, frames <-chan model.Frame) error {
	defer e.teardown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			e.ProcessFrame(frame)
		case fn := <-e.events:
			fn()
			e.publish()
		}
	}
}

func (e *Engine) teardown() {
	e.stopped.Store(true)
	close(e.done)
	e.stopWatchdog()
	e.scheduler.Stop()
	e.publish()
	if e.notifier != nil {
		if err := e.notifier.Close(); err != nil && e.logger != nil {
			e.logger.Warn("notifier close failed", "err", err)
		}
	}
}

// dispatch queues f on the loop. Used by timer callbacks.
func (e *Engine) dispatch(f func()) {
	select {
	case e.events <- f:
	case <-e.done:
	}
}

// call runs fn on the loop and waits for it to finish.
func (e *Engine) call(ctx context.Context, fn func()) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	finished := make(chan struct{})
	select {
	case e.events <- func() {
		fn()
		e.publish()
		close(finished)
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Calibrate stores the most recently observed shoulder height as the
// good-posture reference.
func (e *Engine) Calibrate(ctx context.Context) (model.Calibration, error) {
	var (
		cal    model.Calibration
		calErr error
	)
	if err := e.call(ctx, func() { cal, calErr = e.calibrate() }); err != nil {
		return model.Calibration{}, err
	}
	return cal, calErr
}

func (e *Engine) SetVolume(ctx context.Context, level float64) error {
	var setErr error
	if err := e.call(ctx, func() { setErr = e.volume.Set(level) }); err != nil {
		return err
	}
	return setErr
}

// UpdateConfig swaps in new thresholds, triggers, and repeat period. The
// running alert state is kept.
func (e *Engine) UpdateConfig(ctx context.Context, cfg *config.Config) error {
	e.cfg.Store(cfg)
	return e.call(ctx, func() { e.applyConfig(cfg) })
}

// Reset clears calibration, alert state, and rolling statistics.
func (e *Engine) Reset(ctx context.Context) error {
	return e.call(ctx, e.reset)
}

func (e *Engine) applyConfig(cfg *config.Config) {
	e.thresholds = posture.ThresholdsFrom(cfg.Classifier)
	e.triggers = posture.TriggersFrom(cfg.Classifier.Triggers)
	e.scheduler.SetPeriod(cfg.Alert.RepeatPeriod)
	if e.logger != nil {
		e.logger.Info("engine config applied",
			"shoulder_tilt", e.thresholds.ShoulderTilt,
			"head_tilt", e.thresholds.HeadTilt,
			"slouch", e.thresholds.Slouch,
			"repeat_period", cfg.Alert.RepeatPeriod,
		)
	}
}

func (e *Engine) reset() {
	e.stopWatchdog()
	e.scheduler.Stop()
	e.calibration.Reset()
	e.latest = nil
	e.verdict = model.Unavailable(time.Now().UTC())
	e.noDetectionSince = time.Time{}
	e.dedupe = NewDedupeCache()
	e.windows = make(map[string]*SourceWindows)
	e.metrics.Clear()
	if e.logger != nil {
		e.logger.Info("session reset", "session_id", e.sessionID)
	}
}

func (e *Engine) calibrate() (model.Calibration, error) {
	cal, err := e.calibration.SetReference(e.latest)
	if err != nil {
		e.record(model.EventCalibrationFailed, e.verdict, err)
		if e.logger != nil {
			e.logger.Warn("calibration failed", "err", err)
		}
		return cal, err
	}
	e.record(model.EventCalibrated, e.verdict, nil)
	if e.logger != nil {
		e.logger.Info("calibrated", "shoulder_height", cal.ShoulderHeight)
	}
	return cal, nil
}

// ProcessFrame classifies one frame and drives the alert state. It must run on
// the loop goroutine, or on a test goroutine when Run is not running.
func (e *Engine) ProcessFrame(frame model.Frame) model.Verdict {
	cfg := e.config()
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}
	if e.isDuplicate(frame, cfg.Ingest.DedupeWindow) {
		return e.verdict
	}
	e.framesProcessed++
	e.lastFrameAt = frame.Timestamp

	if _, ok := posture.ShoulderHeight(frame); ok {
		latest := frame
		e.latest = &latest
	}
	cal := e.calibration.Reference()
	verdict := posture.Classify(frame, cal, e.thresholds)
	e.verdict = verdict
	bad := posture.BadPosture(verdict, e.triggers)

	if verdict.Detected {
		e.noDetectionSince = time.Time{}
		e.updateAlert(bad)
		if e.scheduler.State() == model.AlertActive {
			e.armWatchdog(cfg.Alert.NoDetectionTimeout)
		}
	} else {
		e.handleNoDetection(cfg.Alert, frame.Timestamp)
	}

	e.updateWindows(cfg, frame.Source, verdict, bad, cal.Set)
	e.sample(cfg.Storage.SampleInterval, frame.Source, verdict, bad)
	e.publish()
	return verdict
}

func (e *Engine) handleNoDetection(cfg config.AlertConfig, ts time.Time) {
	if cfg.NoDetectionPolicy == config.NoDetectionClear {
		e.updateAlert(false)
		return
	}
	if e.noDetectionSince.IsZero() {
		e.noDetectionSince = ts
		return
	}
	if cfg.NoDetectionTimeout > 0 && ts.Sub(e.noDetectionSince) >= cfg.NoDetectionTimeout {
		e.updateAlert(false)
	}
}

func (e *Engine) updateAlert(bad bool) {
	before := e.scheduler.State()
	after := e.scheduler.Update(bad)
	if before == after {
		return
	}
	switch after {
	case model.AlertActive:
		if e.logger != nil {
			e.logger.Warn("posture alert active",
				"head", e.verdict.Head,
				"shoulders", e.verdict.Shoulders,
				"overall", e.verdict.Overall,
			)
		}
	case model.AlertIdle:
		e.stopWatchdog()
		e.record(model.EventCleared, e.verdict, nil)
		if e.logger != nil {
			e.logger.Info("posture alert cleared")
		}
	}
}

// armWatchdog restarts the wall-clock timer that clears an active alert once
// no detected frame has arrived for timeout. Frame timestamps cannot measure
// this when the source stops sending altogether.
func (e *Engine) armWatchdog(timeout time.Duration) {
	e.stopWatchdog()
	if timeout <= 0 {
		return
	}
	gen := e.watchdogGen
	e.watchdog = e.clock.AfterFunc(timeout, func() {
		e.dispatch(func() { e.watchdogFired(gen, timeout) })
	})
}

func (e *Engine) stopWatchdog() {
	e.watchdogGen++
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func (e *Engine) watchdogFired(gen uint64, timeout time.Duration) {
	if gen != e.watchdogGen {
		return
	}
	e.watchdog = nil
	if e.scheduler.State() != model.AlertActive {
		return
	}
	if e.logger != nil {
		e.logger.Warn("no landmarks received, clearing alert", "timeout", timeout)
	}
	e.verdict = model.Unavailable(time.Now().UTC())
	e.updateAlert(false)
}

// onCue runs inside scheduler.Update or a dispatched tick, so on the loop.
func (e *Engine) onCue(cue alerting.Cue) {
	e.cuesPlayed++
	kind := model.EventCue
	if !cue.Repeat {
		kind = model.EventActivated
	}
	e.record(kind, e.verdict, cue.Err)
}

func (e *Engine) record(kind model.AlertEventKind, verdict model.Verdict, err error) {
	ev := model.AlertEvent{
		Timestamp: time.Now().UTC(),
		SessionID: e.sessionID,
		Kind:      kind,
		Volume:    e.volume.Level(),
		Verdict:   verdict,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.alerts.Add(ev)
	e.recorder.RecordEvent(ev)
}

func (e *Engine) updateWindows(cfg *config.Config, source string, v model.Verdict, bad, calibrated bool) {
	if source == "" {
		source = "unknown"
	}
	sw := e.sourceWindows(source, cfg.Metrics.Windows)
	entry := FrameEntry{
		Timestamp:  v.Timestamp,
		Detected:   v.Detected,
		Bad:        bad,
		Deviation:  v.Deviation,
		Calibrated: calibrated && v.Detected,
	}
	stats := make([]model.PostureStats, 0, len(sw.windows))
	for _, w := range sw.sorted() {
		w.Evict(v.Timestamp.Add(-w.duration))
		w.Add(entry)
		stats = append(stats, w.Stats())
	}
	if len(stats) > 0 {
		e.metrics.Update(source, stats)
	}
}

func (e *Engine) sourceWindows(source string, durations []time.Duration) *SourceWindows {
	sw, ok := e.windows[source]
	if !ok {
		sw = &SourceWindows{windows: make(map[int]*WindowState)}
		e.windows[source] = sw
	}
	for _, d := range durations {
		sec := int(d.Seconds())
		if _, exists := sw.windows[sec]; !exists {
			sw.windows[sec] = NewWindowState(d)
		}
	}
	return sw
}

func (sw *SourceWindows) sorted() []*WindowState {
	keys := make([]int, 0, len(sw.windows))
	for k := range sw.windows {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]*WindowState, 0, len(keys))
	for _, k := range keys {
		out = append(out, sw.windows[k])
	}
	return out
}

func (e *Engine) sample(interval time.Duration, source string, v model.Verdict, bad bool) {
	if e.recorder == nil {
		return
	}
	if interval > 0 && !e.lastSampleAt.IsZero() && v.Timestamp.Sub(e.lastSampleAt) < interval {
		return
	}
	e.lastSampleAt = v.Timestamp
	e.recorder.RecordVerdict(storage.VerdictSample{
		SessionID: e.sessionID,
		Source:    source,
		Verdict:   v,
		Bad:       bad,
	})
}

func (e *Engine) isDuplicate(frame model.Frame, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	key := strings.Join([]string{frame.Source, frame.Timestamp.UTC().Format(time.RFC3339Nano)}, "|")
	return e.dedupe.Seen(key, time.Now().UTC(), window)
}

func (e *Engine) publish() {
	e.status.Store(model.Status{
		SessionID:       e.sessionID,
		Verdict:         e.verdict,
		AlertState:      e.scheduler.State(),
		Volume:          e.volume.Level(),
		Calibration:     e.calibration.Reference(),
		FramesProcessed: e.framesProcessed,
		CuesPlayed:      e.cuesPlayed,
		LastFrameAt:     e.lastFrameAt,
	})
}
