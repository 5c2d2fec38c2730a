// Package alerting decides when the posture cue repeats.
//
// The policy is the pure Transition function; Scheduler applies its effects
// with a Clock and a notify.Notifier.
package alerting

import "posturewatch/internal/model"

type Effect int

const (
	PlayCue Effect = iota + 1
	StartTimer
	StopTimer
)

func (e Effect) String() string {
	switch e {
	case PlayCue:
		return "play_cue"
	case StartTimer:
		return "start_timer"
	case StopTimer:
		return "stop_timer"
	}
	return "unknown"
}

// Transition maps the current state and the latest bad-posture signal to the
// next state and the effects to run, in order.
func Transition(state model.AlertState, bad bool) (model.AlertState, []Effect) {
	switch {
	case state != model.AlertActive && bad:
		return model.AlertActive, []Effect{PlayCue, StartTimer}
	case state == model.AlertActive && !bad:
		return model.AlertIdle, []Effect{StopTimer}
	case state == model.AlertActive:
		return model.AlertActive, nil
	}
	return model.AlertIdle, nil
}
