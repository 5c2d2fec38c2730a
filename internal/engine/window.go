package engine

import (
	"time"

	"posturewatch/internal/model"
)

type FrameEntry struct {
	Timestamp time.Time
	Detected  bool
	Bad       bool
	// Deviation is only meaningful when Calibrated is set.
	Deviation  float64
	Calibrated bool
}

// WindowState keeps running totals over a sliding time window of verdicts.
type WindowState struct {
	duration     time.Duration
	entries      []FrameEntry
	head         int
	frames       int
	detected     int
	bad          int
	calibrated   int
	deviationSum float64
}

func NewWindowState(duration time.Duration) *WindowState {
	return &WindowState{
		duration: duration,
		entries:  make([]FrameEntry, 0, 128),
	}
}

// Add keeps entries ordered by timestamp so Evict can stop at the first
// entry inside the window. Frames from several transports may arrive late.
func (w *WindowState) Add(e FrameEntry) {
	w.entries = append(w.entries, e)
	for i := len(w.entries) - 1; i > w.head && w.entries[i-1].Timestamp.After(e.Timestamp); i-- {
		w.entries[i], w.entries[i-1] = w.entries[i-1], w.entries[i]
	}
	w.frames++
	if e.Detected {
		w.detected++
	}
	if e.Bad {
		w.bad++
	}
	if e.Calibrated {
		w.calibrated++
		w.deviationSum += e.Deviation
	}
}

func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		w.frames--
		if e.Detected {
			w.detected--
		}
		if e.Bad {
			w.bad--
		}
		if e.Calibrated {
			w.calibrated--
			w.deviationSum -= e.Deviation
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]FrameEntry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *WindowState) Stats() model.PostureStats {
	st := model.PostureStats{
		WindowSec: int(w.duration.Seconds()),
		Frames:    w.frames,
		Detected:  w.detected,
		Bad:       w.bad,
	}
	if w.detected > 0 {
		st.BadRatio = float64(w.bad) / float64(w.detected)
	}
	if w.calibrated > 0 {
		st.MeanDeviation = w.deviationSum / float64(w.calibrated)
	}
	return st
}
