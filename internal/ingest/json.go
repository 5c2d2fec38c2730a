package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"posturewatch/internal/normalize"
)

type wireFrame struct {
	Timestamp     json.RawMessage `json:"timestamp"`
	TS            json.RawMessage `json:"ts"`
	Time          json.RawMessage `json:"time"`
	Source        string          `json:"source"`
	Camera        string          `json:"camera"`
	Device        string          `json:"device"`
	Detected      *bool           `json:"detected"`
	Landmarks     json.RawMessage `json:"landmarks"`
	PoseLandmarks json.RawMessage `json:"poseLandmarks"`
	PoseSnake     json.RawMessage `json:"pose_landmarks"`
}

type wireLandmark struct {
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Visibility *float64 `json:"visibility"`
}

var errNotFrame = errors.New("payload is not a landmark frame")

// ParseJSONBytes decodes one payload into frames. Accepted shapes:
//
//	{"timestamp":..,"source":..,"landmarks":[{"x":..,"y":..},...]}
//	{"landmarks":{"11":{"x":..,"y":..},...}}
//	{"landmarks":null} or {"detected":false} or []
//	[{"x":..,"y":..},...]      bare landmark array
//	[{"landmarks":..},...]     batch of frames
func ParseJSONBytes(data []byte) ([]*normalize.FrameFields, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '{':
		f, err := parseFrameObject(data)
		if err != nil {
			return nil, err
		}
		return []*normalize.FrameFields{f}, nil
	case '[':
		return parseTopLevelArray(data)
	default:
		return nil, errNotFrame
	}
}

func parseTopLevelArray(data []byte) ([]*normalize.FrameFields, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	first := firstNonNull(items)
	if first == nil || first[0] == '[' || isLandmarkObject(first) {
		lms, err := parseLandmarks(data)
		if err != nil {
			return nil, err
		}
		return []*normalize.FrameFields{{Landmarks: lms}}, nil
	}
	out := make([]*normalize.FrameFields, 0, len(items))
	for i, item := range items {
		f, err := parseFrameObject(item)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func parseFrameObject(data []byte) (*normalize.FrameFields, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	fields := &normalize.FrameFields{
		Source: firstNonEmpty(w.Source, w.Camera, w.Device),
	}
	ts, err := rawTimestamp(firstRaw(w.Timestamp, w.TS, w.Time))
	if err != nil {
		return nil, err
	}
	fields.Timestamp = ts
	if w.Detected != nil && !*w.Detected {
		fields.NoDetection = true
		return fields, nil
	}
	lms, err := parseLandmarks(firstRaw(w.Landmarks, w.PoseLandmarks, w.PoseSnake))
	if err != nil {
		return nil, err
	}
	fields.Landmarks = lms
	return fields, nil
}

// parseLandmarks accepts an index-ordered array, an array of per-person arrays
// (first person wins), or an object keyed by index.
func parseLandmarks(raw json.RawMessage) (map[int]normalize.RawLandmark, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		if first := firstNonNull(items); first != nil && first[0] == '[' {
			return parseLandmarks(first)
		}
		out := make(map[int]normalize.RawLandmark, len(items))
		for i, item := range items {
			if lm, ok, err := decodeLandmark(item); err != nil {
				return nil, fmt.Errorf("landmark %d: %w", i, err)
			} else if ok {
				out[i] = lm
			}
		}
		return out, nil
	case '{':
		var items map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make(map[int]normalize.RawLandmark, len(items))
		for key, item := range items {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				return nil, fmt.Errorf("landmark key %q: not an index", key)
			}
			if lm, ok, err := decodeLandmark(item); err != nil {
				return nil, fmt.Errorf("landmark %d: %w", idx, err)
			} else if ok {
				out[idx] = lm
			}
		}
		return out, nil
	default:
		return nil, errors.New("landmarks must be an array or object")
	}
}

func decodeLandmark(raw json.RawMessage) (normalize.RawLandmark, bool, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return normalize.RawLandmark{}, false, nil
	}
	var w wireLandmark
	if err := json.Unmarshal(raw, &w); err != nil {
		return normalize.RawLandmark{}, false, err
	}
	if w.X == nil || w.Y == nil {
		return normalize.RawLandmark{}, false, nil
	}
	return normalize.RawLandmark{X: *w.X, Y: *w.Y, Visibility: w.Visibility}, true, nil
}

func isLandmarkObject(raw json.RawMessage) bool {
	if raw[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, hasX := probe["x"]
	_, hasY := probe["y"]
	return hasX && hasY
}

func rawTimestamp(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	s := string(raw)
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", fmt.Errorf("timestamp %q: %w", s, err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return s, nil
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

func firstNonNull(items []json.RawMessage) json.RawMessage {
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && !bytes.Equal(item, []byte("null")) {
			return item
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
