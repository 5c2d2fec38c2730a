package model

import "time"

// Pose landmark indices used by the classifier (MediaPipe pose topology).
const (
	LeftEar       = 7
	RightEar      = 8
	LeftShoulder  = 11
	RightShoulder = 12
)

// RequiredLandmarks lists every index the classifier reads.
var RequiredLandmarks = []int{LeftEar, RightEar, LeftShoulder, RightShoulder}

type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Frame is one processed camera frame. A frame without landmarks is a
// "no detection" frame.
type Frame struct {
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source,omitempty"`
	Landmarks map[int]Landmark `json:"landmarks,omitempty"`
}

func (f Frame) Detected() bool {
	return len(f.Landmarks) > 0
}

type HeadStatus string

const (
	HeadGood        HeadStatus = "good"
	HeadTilted      HeadStatus = "tilted"
	HeadUnavailable HeadStatus = "n/a"
)

type ShoulderStatus string

const (
	ShouldersGood        ShoulderStatus = "good"
	ShouldersUneven      ShoulderStatus = "uneven"
	ShouldersUnavailable ShoulderStatus = "n/a"
)

type OverallStatus string

const (
	OverallGood                OverallStatus = "good"
	OverallSlouching           OverallStatus = "slouching"
	OverallAwaitingCalibration OverallStatus = "awaiting_calibration"
	OverallUnavailable         OverallStatus = "n/a"
)

type Verdict struct {
	Timestamp      time.Time      `json:"timestamp"`
	Detected       bool           `json:"detected"`
	Head           HeadStatus     `json:"head"`
	Shoulders      ShoulderStatus `json:"shoulders"`
	Overall        OverallStatus  `json:"overall"`
	ShoulderTilt   float64        `json:"shoulder_tilt"`
	EarTilt        float64        `json:"ear_tilt"`
	ShoulderHeight float64        `json:"shoulder_height"`
	Deviation      float64        `json:"deviation"`
}

// Unavailable is the verdict for a frame with no usable landmarks.
func Unavailable(ts time.Time) Verdict {
	return Verdict{
		Timestamp: ts,
		Detected:  false,
		Head:      HeadUnavailable,
		Shoulders: ShouldersUnavailable,
		Overall:   OverallUnavailable,
	}
}

type Calibration struct {
	ShoulderHeight float64   `json:"shoulder_height"`
	Set            bool      `json:"set"`
	CalibratedAt   time.Time `json:"calibrated_at,omitempty"`
}

type AlertState string

const (
	AlertIdle   AlertState = "idle"
	AlertActive AlertState = "active"
)

type AlertEventKind string

const (
	EventActivated         AlertEventKind = "activated"
	EventCue               AlertEventKind = "cue"
	EventCleared           AlertEventKind = "cleared"
	EventCalibrated        AlertEventKind = "calibrated"
	EventCalibrationFailed AlertEventKind = "calibration_failed"
)

type AlertEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Kind      AlertEventKind `json:"kind"`
	Volume    float64        `json:"volume"`
	Verdict   Verdict        `json:"verdict"`
	Error     string         `json:"error,omitempty"`
}

type PostureStats struct {
	WindowSec     int     `json:"window_sec"`
	Frames        int     `json:"frames"`
	Detected      int     `json:"detected"`
	Bad           int     `json:"bad"`
	BadRatio      float64 `json:"bad_ratio"`
	MeanDeviation float64 `json:"mean_deviation"`
}

// Status is the read-only view handed to displays.
type Status struct {
	SessionID       string      `json:"session_id"`
	Verdict         Verdict     `json:"verdict"`
	AlertState      AlertState  `json:"alert_state"`
	Volume          float64     `json:"volume"`
	Calibration     Calibration `json:"calibration"`
	FramesProcessed int64       `json:"frames_processed"`
	CuesPlayed      int64       `json:"cues_played"`
	LastFrameAt     time.Time   `json:"last_frame_at,omitempty"`
}
