package ads

import (
	"reflect"
	"testing"
)

func TestGroupTimesFromCuePoints(t *testing.T) {
	const durationUs = 100_000_000

	tests := []struct {
		name      string
		cuePoints []float64
		want      []int64
	}{
		{"empty means preroll", nil, []int64{0}},
		{"single midroll", []float64{0.5}, []int64{50_000_000}},
		{"preroll midroll postroll", []float64{0, 0.25, -1}, []int64{0, 25_000_000, TimeEndOfSource}},
		{"midroll and postroll", []float64{0.5, -1}, []int64{50_000_000, TimeEndOfSource}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupTimesFromCuePoints(tt.cuePoints, durationUs)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupTimesFromCuePoints_Monotonic(t *testing.T) {
	cuePoints := []float64{0, 0.1, 0.4, 0.4, 0.9}
	times := GroupTimesFromCuePoints(cuePoints, 3_600_000_000)
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			t.Fatalf("times not monotonic at %d: %v", i, times)
		}
	}
}

func TestNewState_EmptyTimesSynthesizesPreroll(t *testing.T) {
	s := NewState(nil)
	if len(s.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(s.Groups))
	}
	if s.Groups[0].InsertionTimeUs != 0 {
		t.Fatalf("expected preroll at 0, got %d", s.Groups[0].InsertionTimeUs)
	}
	if s.Groups[0].AdCount != CountUnset {
		t.Fatalf("expected unset ad count, got %d", s.Groups[0].AdCount)
	}
}

func TestSetAdCount_ConflictFails(t *testing.T) {
	s := NewState([]int64{0})
	if err := s.SetAdCount(0, 2); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := s.SetAdCount(0, 2); err != nil {
		t.Fatalf("idempotent re-set: %v", err)
	}
	if err := s.SetAdCount(0, 3); err == nil {
		t.Fatal("expected error on conflicting ad count")
	}
	if s.Groups[0].AdCount != 2 {
		t.Fatalf("count overwritten to %d", s.Groups[0].AdCount)
	}
}

func TestSetAdCount_BadGroup(t *testing.T) {
	s := NewState([]int64{0})
	if err := s.SetAdCount(1, 1); err == nil {
		t.Fatal("expected error for out-of-range group")
	}
}

func TestMarkAdPlayed_ConsumesGroup(t *testing.T) {
	s := NewState([]int64{0})
	if err := s.SetAdCount(0, 2); err != nil {
		t.Fatal(err)
	}
	if s.Groups[0].Consumed() {
		t.Fatal("group consumed before any ad played")
	}
	if err := s.MarkAdPlayed(0); err != nil {
		t.Fatal(err)
	}
	if got := s.Groups[0].PlayedCount(); got != 1 {
		t.Fatalf("played count = %d, want 1", got)
	}
	if s.Groups[0].Consumed() {
		t.Fatal("group consumed after one of two ads")
	}
	if err := s.MarkAdPlayed(0); err != nil {
		t.Fatal(err)
	}
	if !s.Groups[0].Consumed() {
		t.Fatal("group not consumed after all ads played")
	}
}

func TestConsumed_ZeroAndUnknownCounts(t *testing.T) {
	s := NewState([]int64{0, 1})
	if err := s.SetAdCount(0, 0); err != nil {
		t.Fatal(err)
	}
	if !s.Groups[0].Consumed() {
		t.Fatal("empty group should be skippable")
	}
	if s.Groups[1].Consumed() {
		t.Fatal("group with unknown count is not ready, not consumed")
	}
}

func TestGroupIndexForPosition(t *testing.T) {
	const durationUs = 100_000_000
	s := NewState([]int64{0, 50_000_000, TimeEndOfSource})

	if got := s.GroupIndexForPosition(10_000_000, durationUs); got != 0 {
		t.Fatalf("position inside first break region = group %d, want 0", got)
	}
	if got := s.GroupIndexForPosition(60_000_000, durationUs); got != 1 {
		t.Fatalf("position past midroll = group %d, want 1", got)
	}
	if got := s.GroupIndexForPosition(durationUs, durationUs); got != 2 {
		t.Fatalf("end position = group %d, want 2 (postroll)", got)
	}

	// Consumed groups no longer match.
	_ = s.SetAdCount(1, 1)
	_ = s.MarkAdPlayed(1)
	_ = s.SetAdCount(0, 1)
	_ = s.MarkAdPlayed(0)
	if got := s.GroupIndexForPosition(60_000_000, durationUs); got != IndexUnset {
		t.Fatalf("consumed groups matched: %d", got)
	}
}

func TestCopy_NoAliasing(t *testing.T) {
	s := NewState([]int64{0, 50_000_000})
	_ = s.SetAdCount(0, 1)
	_ = s.AddAdURI(0, "https://ads.example/creative/1.m3u8")
	_ = s.MarkAdPlayed(0)
	s.SetResumePosition(42)

	cp := s.Copy()
	if !reflect.DeepEqual(cp, s) {
		t.Fatalf("copy differs: %+v vs %+v", cp, s)
	}

	_ = s.AddAdURI(1, "https://ads.example/creative/2.m3u8")
	_ = s.SetAdCount(1, 2)
	s.SetResumePosition(99)
	if len(cp.Groups[1].AdURIs) != 0 || cp.Groups[1].AdCount != CountUnset {
		t.Fatal("mutating original leaked into copy")
	}
	if cp.ResumePositionUs != 42 {
		t.Fatalf("resume position leaked: %d", cp.ResumePositionUs)
	}
	if cp.Groups[0].PlayedCount() != 1 {
		t.Fatalf("played cursor lost in copy: %d", cp.Groups[0].PlayedCount())
	}
}
