package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

func vis(v float64) *float64 { return &v }

func TestNormalizeDefaultsSourceAndTime(t *testing.T) {
	cfg := config.DefaultConfig()
	frame, err := Normalize(FrameFields{Landmarks: map[int]RawLandmark{11: {X: 0.4, Y: 0.5}}}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if frame.Source != cfg.Ingest.Parser.DefaultSource {
		t.Fatalf("source = %q", frame.Source)
	}
	if frame.Timestamp.IsZero() {
		t.Fatalf("timestamp not defaulted")
	}
	if lm := frame.Landmarks[11]; lm.Visibility != 1 {
		t.Fatalf("missing visibility should default to 1, got %v", lm.Visibility)
	}
}

func TestNormalizeNoDetection(t *testing.T) {
	frame, err := Normalize(FrameFields{NoDetection: true, Landmarks: map[int]RawLandmark{11: {X: 0.4, Y: 0.5}}}, config.DefaultConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if frame.Detected() {
		t.Fatalf("explicit no-detection must win")
	}
}

func TestNormalizeDropsOffFrameAndLowVisibility(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Parser.MinVisibility = 0.5
	frame, err := Normalize(FrameFields{Landmarks: map[int]RawLandmark{
		model.LeftEar:       {X: 0.4, Y: -0.3},
		model.RightEar:      {X: 0.6, Y: 0.3, Visibility: vis(0.2)},
		model.LeftShoulder:  {X: 0.4, Y: 0.5, Visibility: vis(0.9)},
		model.RightShoulder: {X: 0.6, Y: 0.5},
	}}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, ok := frame.Landmarks[model.LeftEar]; ok {
		t.Fatalf("off-frame landmark should be dropped")
	}
	if _, ok := frame.Landmarks[model.RightEar]; ok {
		t.Fatalf("low visibility landmark should be dropped")
	}
	if len(frame.Landmarks) != 2 {
		t.Fatalf("expected 2 landmarks, got %d", len(frame.Landmarks))
	}
}

func TestNormalizeClampsNearEdge(t *testing.T) {
	cfg := config.DefaultConfig()
	frame, err := Normalize(FrameFields{Landmarks: map[int]RawLandmark{
		model.LeftShoulder:  {X: 0.35, Y: 1.04},
		model.RightShoulder: {X: -0.02, Y: 0.98},
	}}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	left, ok := frame.Landmarks[model.LeftShoulder]
	if !ok || left.Y != 1 {
		t.Fatalf("shoulder just below the frame should clamp to the edge: %+v", frame.Landmarks)
	}
	right, ok := frame.Landmarks[model.RightShoulder]
	if !ok || right.X != 0 || right.Y != 0.98 {
		t.Fatalf("unexpected right shoulder: %+v", right)
	}

	cfg.Ingest.Parser.EdgeTolerance = 0
	frame, err = Normalize(FrameFields{Landmarks: map[int]RawLandmark{
		model.LeftShoulder: {X: 0.35, Y: 1.04},
	}}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(frame.Landmarks) != 0 {
		t.Fatalf("zero tolerance should drop off-frame landmarks")
	}
}

func TestNormalizeRejectsNaN(t *testing.T) {
	_, err := Normalize(FrameFields{Landmarks: map[int]RawLandmark{11: {X: math.NaN(), Y: 0.5}}}, config.DefaultConfig())
	if !errors.Is(err, ErrBadLandmark) {
		t.Fatalf("expected ErrBadLandmark, got %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000", time.UTC)
	if err != nil || ts.Unix() != 1700000000 {
		t.Fatalf("unix seconds: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("1700000000123", time.UTC)
	if err != nil || ts.UnixMilli() != 1700000000123 {
		t.Fatalf("unix millis: %v %v", ts, err)
	}
	ts, err = ParseTimestamp("2026-02-23T12:34:56Z", time.UTC)
	if err != nil || ts.Hour() != 12 {
		t.Fatalf("rfc3339: %v %v", ts, err)
	}
	if _, err := ParseTimestamp("yesterday", time.UTC); err == nil {
		t.Fatalf("expected error for free text")
	}
}

func TestClampTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := ClampTimestamp(now.Add(-time.Hour), now, time.Minute, time.Minute); !got.Equal(now) {
		t.Fatalf("old timestamp should clamp to now")
	}
	if got := ClampTimestamp(now.Add(time.Hour), now, time.Minute, time.Minute); !got.Equal(now) {
		t.Fatalf("future timestamp should clamp to now")
	}
	recent := now.Add(-time.Second)
	if got := ClampTimestamp(recent, now, time.Minute, time.Minute); !got.Equal(recent) {
		t.Fatalf("recent timestamp should be kept")
	}
}
