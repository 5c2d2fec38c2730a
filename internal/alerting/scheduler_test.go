package alerting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"posturewatch/internal/alerting"
	"posturewatch/internal/alerting/alertingtest"
	"posturewatch/internal/model"
)

type fakeNotifier struct {
	volumes []float64
	err     error
}

func (f *fakeNotifier) Play(_ context.Context, v float64) error {
	f.volumes = append(f.volumes, v)
	return f.err
}

func (f *fakeNotifier) Close() error { return nil }

func newScheduler(n *fakeNotifier, vol *alerting.Volume) (*alerting.Scheduler, *alertingtest.ManualClock) {
	clock := alertingtest.NewManualClock()
	s := alerting.NewScheduler(n, vol, alerting.Options{Period: 5 * time.Second, Clock: clock})
	return s, clock
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		state   model.AlertState
		bad     bool
		next    model.AlertState
		effects []alerting.Effect
	}{
		{model.AlertIdle, true, model.AlertActive, []alerting.Effect{alerting.PlayCue, alerting.StartTimer}},
		{model.AlertIdle, false, model.AlertIdle, nil},
		{model.AlertActive, true, model.AlertActive, nil},
		{model.AlertActive, false, model.AlertIdle, []alerting.Effect{alerting.StopTimer}},
	}
	for _, tc := range cases {
		next, effects := alerting.Transition(tc.state, tc.bad)
		if next != tc.next {
			t.Fatalf("%s/%v: next = %s, want %s", tc.state, tc.bad, next, tc.next)
		}
		if len(effects) != len(tc.effects) {
			t.Fatalf("%s/%v: effects = %v, want %v", tc.state, tc.bad, effects, tc.effects)
		}
		for i := range effects {
			if effects[i] != tc.effects[i] {
				t.Fatalf("%s/%v: effect %d = %s, want %s", tc.state, tc.bad, i, effects[i], tc.effects[i])
			}
		}
	}
}

func TestActivationPlaysImmediatelyAndArmsTimer(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, alerting.NewVolume(0.8))
	if got := s.Update(true); got != model.AlertActive {
		t.Fatalf("state = %s", got)
	}
	if len(n.volumes) != 1 || n.volumes[0] != 0.8 {
		t.Fatalf("expected one immediate cue at 0.8, got %v", n.volumes)
	}
	pending := clock.Pending()
	if len(pending) != 1 || pending[0].Duration != 5*time.Second {
		t.Fatalf("expected one 5s timer, got %d", len(pending))
	}
	clock.Advance()
	clock.Advance()
	if len(n.volumes) != 3 {
		t.Fatalf("expected cue per tick, got %d cues", len(n.volumes))
	}
}

func TestRepeatedBadSignalsKeepOneTimer(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, nil)
	for i := 0; i < 10; i++ {
		s.Update(true)
		if got := len(clock.Pending()); got != 1 {
			t.Fatalf("iteration %d: %d timers pending", i, got)
		}
	}
	if len(n.volumes) != 1 {
		t.Fatalf("only the activation should play, got %d cues", len(n.volumes))
	}
}

func TestGoodSignalCancelsImmediately(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, nil)
	s.Update(true)
	inFlight := clock.Pending()[0]
	if got := s.Update(false); got != model.AlertIdle {
		t.Fatalf("state = %s", got)
	}
	if len(clock.Pending()) != 0 {
		t.Fatalf("timer should be disarmed")
	}
	inFlight.ForceFire()
	if len(n.volumes) != 1 {
		t.Fatalf("stale tick must not play, got %d cues", len(n.volumes))
	}
	if len(clock.Pending()) != 0 {
		t.Fatalf("stale tick must not re-arm")
	}
}

func TestStaleTickAfterReactivationIsIgnored(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, nil)
	s.Update(true)
	old := clock.Pending()[0]
	s.Update(false)
	s.Update(true)
	old.ForceFire()
	if len(n.volumes) != 2 {
		t.Fatalf("expected two activation cues only, got %d", len(n.volumes))
	}
	if len(clock.Pending()) != 1 {
		t.Fatalf("expected exactly the new timer pending")
	}
}

func TestIdleCancelIsNoop(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, nil)
	s.Update(false)
	s.Update(false)
	if len(n.volumes) != 0 || len(clock.Pending()) != 0 {
		t.Fatalf("idle cancel should do nothing")
	}
}

func TestVolumeSampledAtPlayTime(t *testing.T) {
	n := &fakeNotifier{}
	vol := alerting.NewVolume(1)
	s, clock := newScheduler(n, vol)
	s.Update(true)
	if err := vol.Set(0); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	clock.Advance()
	if len(n.volumes) != 2 || n.volumes[0] != 1 || n.volumes[1] != 0 {
		t.Fatalf("expected cues at 1 then 0, got %v", n.volumes)
	}
}

func TestPlaybackFailureKeepsTicking(t *testing.T) {
	n := &fakeNotifier{err: errors.New("autoplay blocked")}
	var cues []alerting.Cue
	clock := alertingtest.NewManualClock()
	s := alerting.NewScheduler(n, nil, alerting.Options{
		Clock: clock,
		OnCue: func(c alerting.Cue) { cues = append(cues, c) },
	})
	s.Update(true)
	clock.Advance()
	clock.Advance()
	if s.State() != model.AlertActive {
		t.Fatalf("state = %s", s.State())
	}
	if len(cues) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(cues))
	}
	if cues[0].Repeat || !cues[1].Repeat || cues[2].Err == nil {
		t.Fatalf("unexpected cue records: %+v", cues)
	}
}

func TestStopDisarms(t *testing.T) {
	n := &fakeNotifier{}
	s, clock := newScheduler(n, nil)
	s.Update(true)
	s.Stop()
	if s.State() != model.AlertIdle || len(clock.Pending()) != 0 {
		t.Fatalf("stop should disarm and go idle")
	}
}

func TestDispatchSerializesTicks(t *testing.T) {
	n := &fakeNotifier{}
	clock := alertingtest.NewManualClock()
	var queued []func()
	s := alerting.NewScheduler(n, nil, alerting.Options{
		Clock:    clock,
		Dispatch: func(f func()) { queued = append(queued, f) },
	})
	s.Update(true)
	clock.Advance()
	if len(n.volumes) != 1 || len(queued) != 1 {
		t.Fatalf("tick should be queued, not run: cues=%d queued=%d", len(n.volumes), len(queued))
	}
	s.Update(false)
	queued[0]()
	if len(n.volumes) != 1 {
		t.Fatalf("queued tick after cancel must not play")
	}
}

func TestVolumeRange(t *testing.T) {
	v := alerting.NewVolume(0.5)
	if err := v.Set(1.2); !errors.Is(err, alerting.ErrVolumeRange) {
		t.Fatalf("expected ErrVolumeRange, got %v", err)
	}
	if err := v.Set(-0.1); !errors.Is(err, alerting.ErrVolumeRange) {
		t.Fatalf("expected ErrVolumeRange, got %v", err)
	}
	if v.Level() != 0.5 {
		t.Fatalf("rejected set must not change level")
	}
	if alerting.NewVolume(4).Level() != 1 {
		t.Fatalf("constructor should clamp")
	}
}
