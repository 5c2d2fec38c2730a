package alerting

import (
	"context"
	"log/slog"
	"time"

	"posturewatch/internal/model"
	"posturewatch/internal/notify"
)

const DefaultRepeatPeriod = 5 * time.Second

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Cue describes one playback attempt.
type Cue struct {
	Volume float64
	Repeat bool
	Err    error
}

type Options struct {
	Period time.Duration
	Clock  Clock
	// Dispatch runs f on the goroutine that owns the scheduler. Timer
	// callbacks go through it so ticks are serialized with Update.
	Dispatch func(f func())
	Logger   *slog.Logger
	OnCue    func(Cue)
}

// Scheduler is the Idle/Active alert machine. Every method must be called from
// the owning goroutine; only the timer callback crosses goroutines, and it
// does so through Dispatch.
type Scheduler struct {
	state      model.AlertState
	period     time.Duration
	clock      Clock
	dispatch   func(func())
	notifier   notify.Notifier
	volume     *Volume
	logger     *slog.Logger
	onCue      func(Cue)
	timer      Timer
	generation uint64
}

func NewScheduler(n notify.Notifier, volume *Volume, opts Options) *Scheduler {
	if opts.Period <= 0 {
		opts.Period = DefaultRepeatPeriod
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if volume == nil {
		volume = NewVolume(1)
	}
	return &Scheduler{
		state:    model.AlertIdle,
		period:   opts.Period,
		clock:    opts.Clock,
		dispatch: opts.Dispatch,
		notifier: n,
		volume:   volume,
		logger:   opts.Logger,
		onCue:    opts.OnCue,
	}
}

func (s *Scheduler) State() model.AlertState {
	return s.state
}

// SetPeriod takes effect from the next armed tick.
func (s *Scheduler) SetPeriod(d time.Duration) {
	if d > 0 {
		s.period = d
	}
}

// Update feeds one bad-posture signal and returns the resulting state.
// Repeated signals in the same direction are no-ops.
func (s *Scheduler) Update(bad bool) model.AlertState {
	next, effects := Transition(s.state, bad)
	s.state = next
	for _, e := range effects {
		s.apply(e)
	}
	return s.state
}

// Stop disarms any pending tick and returns to Idle without playing.
func (s *Scheduler) Stop() {
	s.disarm()
	s.state = model.AlertIdle
}

func (s *Scheduler) apply(e Effect) {
	switch e {
	case PlayCue:
		s.play(false)
	case StartTimer:
		s.disarm()
		s.arm(s.generation)
	case StopTimer:
		s.disarm()
	}
}

func (s *Scheduler) arm(gen uint64) {
	s.timer = s.clock.AfterFunc(s.period, func() {
		s.dispatch(func() { s.tick(gen) })
	})
}

// disarm bumps the generation so a tick already queued on the loop is
// recognized as stale.
func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

func (s *Scheduler) tick(gen uint64) {
	if s.state != model.AlertActive || gen != s.generation {
		return
	}
	s.play(true)
	s.arm(gen)
}

func (s *Scheduler) play(repeat bool) {
	cue := Cue{Volume: s.volume.Level(), Repeat: repeat}
	if s.notifier != nil {
		cue.Err = s.notifier.Play(context.Background(), cue.Volume)
	}
	if cue.Err != nil && s.logger != nil {
		s.logger.Warn("cue playback failed", "volume", cue.Volume, "err", cue.Err)
	}
	if s.onCue != nil {
		s.onCue(cue)
	}
}
