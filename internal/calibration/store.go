package calibration

import (
	"errors"
	"time"

	"posturewatch/internal/model"
	"posturewatch/internal/posture"
)

var ErrNoLandmarks = errors.New("calibration: no landmarks observed yet")

// Store holds the good-posture reference. It is owned by a single event loop
// and is not safe for concurrent use.
type Store struct {
	ref model.Calibration
	now func() time.Time
}

func NewStore() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Reference() model.Calibration {
	return s.ref
}

// SetReference records the shoulder midpoint of latest. On error the previous
// reference is left untouched.
func (s *Store) SetReference(latest *model.Frame) (model.Calibration, error) {
	if latest == nil {
		return s.ref, ErrNoLandmarks
	}
	height, ok := posture.ShoulderHeight(*latest)
	if !ok {
		return s.ref, ErrNoLandmarks
	}
	s.ref = model.Calibration{
		ShoulderHeight: height,
		Set:            true,
		CalibratedAt:   s.now(),
	}
	return s.ref, nil
}

func (s *Store) Reset() {
	s.ref = model.Calibration{}
}
