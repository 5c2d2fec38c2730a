package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

// FrameFields is a decoded but unvalidated landmark frame.
type FrameFields struct {
	Timestamp string
	Source    string
	// NoDetection is set when the producer explicitly reported nothing found.
	NoDetection bool
	Landmarks   map[int]RawLandmark
	Raw         string
}

type RawLandmark struct {
	X          float64
	Y          float64
	Visibility *float64
}

var ErrBadLandmark = errors.New("landmark coordinate is not finite")

// Normalize validates fields into a model.Frame. Coordinates up to
// EdgeTolerance past the frame edge are clamped onto it. Landmarks farther out
// or under the visibility floor are dropped; the classifier then sees them as
// missing.
func Normalize(fields FrameFields, cfg *config.Config) (model.Frame, error) {
	source := strings.TrimSpace(fields.Source)
	if source == "" {
		source = cfg.Ingest.Parser.DefaultSource
	}

	now := time.Now().UTC()
	ts := now
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, time.UTC)
		if err != nil {
			return model.Frame{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = ClampTimestamp(parsed.UTC(), now, cfg.Ingest.Parser.MaxClockSkew, cfg.Ingest.Parser.MaxFutureSkew)
	}

	frame := model.Frame{Timestamp: ts, Source: source}
	if fields.NoDetection || len(fields.Landmarks) == 0 {
		return frame, nil
	}
	minVis := cfg.Ingest.Parser.MinVisibility
	tol := cfg.Ingest.Parser.EdgeTolerance
	out := make(map[int]model.Landmark, len(fields.Landmarks))
	for idx, lm := range fields.Landmarks {
		if idx < 0 {
			return model.Frame{}, fmt.Errorf("landmark index %d: negative", idx)
		}
		if !finite(lm.X) || !finite(lm.Y) {
			return model.Frame{}, fmt.Errorf("landmark %d: %w", idx, ErrBadLandmark)
		}
		x, okX := clampUnit(lm.X, tol)
		y, okY := clampUnit(lm.Y, tol)
		if !okX || !okY {
			continue
		}
		vis := 1.0
		if lm.Visibility != nil {
			vis = *lm.Visibility
		}
		if vis < minVis {
			continue
		}
		out[idx] = model.Landmark{X: x, Y: y, Visibility: vis}
	}
	if len(out) > 0 {
		frame.Landmarks = out
	}
	return frame, nil
}

func clampUnit(v, tol float64) (float64, bool) {
	switch {
	case v < -tol || v > 1+tol:
		return 0, false
	case v < 0:
		return 0, true
	case v > 1:
		return 1, true
	}
	return v, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClampTimestamp replaces timestamps too far from now with now.
func ClampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// ParseTimestamp accepts RFC3339 variants and unix seconds or milliseconds
// (fractional values allowed, as produced by performance.now-style clocks).
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	dots := 0
	for _, ch := range value {
		if ch == '.' {
			dots++
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0 && dots <= 1
}

func parseUnix(value string) (time.Time, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	intPart, _, _ := strings.Cut(value, ".")
	if len(intPart) >= 13 {
		return time.UnixMicro(int64(f * 1e3)).UTC(), nil
	}
	return time.UnixMicro(int64(f * 1e6)).UTC(), nil
}
