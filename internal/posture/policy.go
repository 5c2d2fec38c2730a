package posture

import (
	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

// Triggers selects which verdict fields count as bad posture.
type Triggers struct {
	Head      bool
	Shoulders bool
	Slouch    bool
}

func AllTriggers() Triggers {
	return Triggers{Head: true, Shoulders: true, Slouch: true}
}

func TriggersFrom(names []string) Triggers {
	if len(names) == 0 {
		return AllTriggers()
	}
	var t Triggers
	for _, n := range names {
		switch n {
		case config.TriggerHead:
			t.Head = true
		case config.TriggerShoulders:
			t.Shoulders = true
		case config.TriggerSlouch:
			t.Slouch = true
		}
	}
	return t
}

// BadPosture never fires on an undetected verdict or on awaiting_calibration
// alone.
func BadPosture(v model.Verdict, t Triggers) bool {
	if !v.Detected {
		return false
	}
	if t.Head && v.Head != model.HeadGood {
		return true
	}
	if t.Shoulders && v.Shoulders != model.ShouldersGood {
		return true
	}
	return t.Slouch && v.Overall == model.OverallSlouching
}
