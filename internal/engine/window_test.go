package engine

import (
	"testing"
	"time"
)

func TestWindowEvictsLateFrames(t *testing.T) {
	w := NewWindowState(time.Minute)
	w.Add(FrameEntry{Timestamp: base.Add(30 * time.Second), Detected: true, Bad: true})
	w.Add(FrameEntry{Timestamp: base.Add(10 * time.Second), Detected: true})
	w.Add(FrameEntry{Timestamp: base.Add(40 * time.Second), Detected: true})

	w.Evict(base.Add(20 * time.Second))
	st := w.Stats()
	if st.Frames != 2 || st.Bad != 1 {
		t.Fatalf("late frame behind a newer one should be evicted: %+v", st)
	}

	w.Evict(base.Add(35 * time.Second))
	st = w.Stats()
	if st.Frames != 1 || st.Bad != 0 || st.Detected != 1 {
		t.Fatalf("unexpected stats after second evict: %+v", st)
	}
}
