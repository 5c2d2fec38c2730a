package ingest

import "testing"

func TestParseMediaPipeArray(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":1700000000123,"source":"cam0","landmarks":[` +
		`{"x":0.1,"y":0.1},{"x":0.1,"y":0.1},{"x":0.1,"y":0.1},{"x":0.1,"y":0.1},` +
		`{"x":0.1,"y":0.1},{"x":0.1,"y":0.1},{"x":0.1,"y":0.1},` +
		`{"x":0.45,"y":0.30,"z":-0.2,"visibility":0.99},{"x":0.55,"y":0.31}]}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("expected one frame, got %d", len(fields))
	}
	f := fields[0]
	if f.Source != "cam0" || f.Timestamp != "1700000000123" {
		t.Fatalf("source/timestamp mismatch: %q %q", f.Source, f.Timestamp)
	}
	if len(f.Landmarks) != 9 {
		t.Fatalf("expected 9 landmarks, got %d", len(f.Landmarks))
	}
	ear := f.Landmarks[7]
	if ear.X != 0.45 || ear.Y != 0.30 || ear.Visibility == nil || *ear.Visibility != 0.99 {
		t.Fatalf("left ear mismatch: %+v", ear)
	}
	if f.Landmarks[8].Visibility != nil {
		t.Fatalf("missing visibility should stay nil")
	}
}

func TestParseIndexMapAndAlias(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`{"ts":"2026-02-23T12:34:56Z","camera":"desk","poseLandmarks":{"11":{"x":0.4,"y":0.5},"12":{"x":0.6,"y":0.5}}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	f := fields[0]
	if f.Source != "desk" || len(f.Landmarks) != 2 || f.Landmarks[12].X != 0.6 {
		t.Fatalf("index map mismatch: %+v", f)
	}
	if _, err := p.ParseLine(`{"landmarks":{"left":{"x":0.4,"y":0.5}}}`); err == nil {
		t.Fatalf("expected error for non-index key")
	}
}

func TestParseNoDetectionShapes(t *testing.T) {
	p := NewParser()
	for _, line := range []string{`{"landmarks":null}`, `[]`, `{"detected":false,"landmarks":[{"x":0.1,"y":0.1}]}`, `{"landmarks":[]}`} {
		fields, err := p.ParseLine(line)
		if err != nil {
			t.Fatalf("%s: parse error: %v", line, err)
		}
		if len(fields) != 1 {
			t.Fatalf("%s: expected one frame", line)
		}
		if !fields[0].NoDetection && len(fields[0].Landmarks) != 0 {
			t.Fatalf("%s: expected no detection, got %+v", line, fields[0])
		}
	}
}

func TestParseBareAndNestedArrays(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`[{"x":0.1,"y":0.2},null,{"x":0.3,"y":0.4}]`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(fields) != 1 || len(fields[0].Landmarks) != 2 || fields[0].Landmarks[2].Y != 0.4 {
		t.Fatalf("bare array mismatch: %+v", fields)
	}
	fields, err = p.ParseLine(`{"landmarks":[[{"x":0.1,"y":0.2}],[{"x":0.9,"y":0.9}]]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields[0].Landmarks[0].X != 0.1 {
		t.Fatalf("first person should win: %+v", fields[0].Landmarks)
	}
}

func TestParseBatch(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`[{"source":"a","landmarks":null},{"source":"b","landmarks":{"11":{"x":0.4,"y":0.5}}}]`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(fields) != 2 || fields[0].Source != "a" || fields[1].Source != "b" {
		t.Fatalf("batch mismatch: %+v", fields)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewParser()
	if fields, err := p.ParseLine("   "); err != nil || fields != nil {
		t.Fatalf("blank line should yield nil, nil")
	}
	if _, err := p.ParseLine("Reader1 UID=04AABBCC"); err == nil {
		t.Fatalf("expected error for plain text")
	}
	if _, err := p.ParseLine(`{"landmarks":"eleven"}`); err == nil {
		t.Fatalf("expected error for string landmarks")
	}
}
