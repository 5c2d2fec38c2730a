package calibration

import (
	"errors"
	"math"
	"testing"

	"posturewatch/internal/model"
)

func shoulders(left, right float64) *model.Frame {
	return &model.Frame{Landmarks: map[int]model.Landmark{
		model.LeftShoulder:  {Y: left},
		model.RightShoulder: {Y: right},
	}}
}

func TestSetReferenceWithoutSnapshotFails(t *testing.T) {
	s := NewStore()
	ref, err := s.SetReference(nil)
	if !errors.Is(err, ErrNoLandmarks) {
		t.Fatalf("expected ErrNoLandmarks, got %v", err)
	}
	if ref.Set || s.Reference().Set {
		t.Fatalf("reference must stay unset")
	}
}

func TestSetReferenceUsesShoulderMidpoint(t *testing.T) {
	s := NewStore()
	ref, err := s.SetReference(shoulders(0.48, 0.52))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ref.Set || math.Abs(ref.ShoulderHeight-0.5) > 1e-12 {
		t.Fatalf("unexpected reference: %+v", ref)
	}
	if ref.CalibratedAt.IsZero() {
		t.Fatalf("calibration time not recorded")
	}
}

func TestFailedCalibrationKeepsPrevious(t *testing.T) {
	s := NewStore()
	if _, err := s.SetReference(shoulders(0.5, 0.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.SetReference(&model.Frame{})
	if !errors.Is(err, ErrNoLandmarks) {
		t.Fatalf("expected ErrNoLandmarks, got %v", err)
	}
	if got := s.Reference(); !got.Set || got.ShoulderHeight != 0.5 {
		t.Fatalf("previous reference lost: %+v", got)
	}
}

func TestNewestCalibrationWins(t *testing.T) {
	s := NewStore()
	_, _ = s.SetReference(shoulders(0.5, 0.5))
	_, _ = s.SetReference(shoulders(0.6, 0.6))
	if got := s.Reference().ShoulderHeight; got != 0.6 {
		t.Fatalf("expected newest reference 0.6, got %v", got)
	}
	s.Reset()
	if s.Reference().Set {
		t.Fatalf("reset should clear the reference")
	}
}
