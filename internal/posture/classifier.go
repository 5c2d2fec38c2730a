// Package posture turns a landmark frame and a calibration reference into a
// head/shoulders/overall verdict.
package posture

import (
	"math"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

type Thresholds struct {
	ShoulderTilt float64
	HeadTilt     float64
	Slouch       float64
	// Epsilon absorbs float rounding so a difference equal to a threshold
	// in decimal terms stays on the good side.
	Epsilon float64
}

func DefaultThresholds() Thresholds {
	return ThresholdsFrom(config.DefaultConfig().Classifier)
}

func ThresholdsFrom(c config.ClassifierConfig) Thresholds {
	return Thresholds{
		ShoulderTilt: c.ShoulderTiltThreshold,
		HeadTilt:     c.HeadTiltThreshold,
		Slouch:       c.SlouchThreshold,
		Epsilon:      c.Epsilon,
	}
}

// Classify is pure: the same frame, calibration and thresholds always give
// the same verdict.
func Classify(frame model.Frame, cal model.Calibration, th Thresholds) model.Verdict {
	if !HasRequired(frame) {
		return model.Unavailable(frame.Timestamp)
	}
	lm := frame.Landmarks
	v := model.Verdict{
		Timestamp: frame.Timestamp,
		Detected:  true,
		Head:      model.HeadGood,
		Shoulders: model.ShouldersGood,
		Overall:   model.OverallGood,
	}

	v.ShoulderTilt = math.Abs(lm[model.LeftShoulder].Y - lm[model.RightShoulder].Y)
	if exceeds(v.ShoulderTilt, th.ShoulderTilt, th.Epsilon) {
		v.Shoulders = model.ShouldersUneven
	}

	v.EarTilt = math.Abs(lm[model.LeftEar].Y - lm[model.RightEar].Y)
	if exceeds(v.EarTilt, th.HeadTilt, th.Epsilon) {
		v.Head = model.HeadTilted
	}

	v.ShoulderHeight = shoulderHeight(lm)
	if !cal.Set {
		v.Overall = model.OverallAwaitingCalibration
		return v
	}
	v.Deviation = math.Abs(v.ShoulderHeight - cal.ShoulderHeight)
	if exceeds(v.Deviation, th.Slouch, th.Epsilon) {
		v.Overall = model.OverallSlouching
	}
	return v
}

// ShoulderHeight is the mean normalized y of both shoulders. ok is false when
// either shoulder is missing.
func ShoulderHeight(frame model.Frame) (float64, bool) {
	if _, ok := frame.Landmarks[model.LeftShoulder]; !ok {
		return 0, false
	}
	if _, ok := frame.Landmarks[model.RightShoulder]; !ok {
		return 0, false
	}
	return shoulderHeight(frame.Landmarks), true
}

func shoulderHeight(lm map[int]model.Landmark) float64 {
	return (lm[model.LeftShoulder].Y + lm[model.RightShoulder].Y) / 2
}

// HasRequired reports whether every landmark the classifier reads is present.
func HasRequired(frame model.Frame) bool {
	if !frame.Detected() {
		return false
	}
	for _, idx := range model.RequiredLandmarks {
		if _, ok := frame.Landmarks[idx]; !ok {
			return false
		}
	}
	return true
}

func exceeds(value, threshold, eps float64) bool {
	return value > threshold+eps
}
