package alerting

import (
	"errors"
	"math"
)

var ErrVolumeRange = errors.New("volume must be within [0,1]")

// Volume is read at the moment each cue plays.
type Volume struct {
	level float64
}

func NewVolume(level float64) *Volume {
	return &Volume{level: math.Max(0, math.Min(1, level))}
}

func (v *Volume) Level() float64 {
	return v.level
}

func (v *Volume) Set(level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return ErrVolumeRange
	}
	v.level = level
	return nil
}
