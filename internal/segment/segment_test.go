package segment

import (
	"math/rand"
	"slices"
	"testing"
)

func collect(events []SilenceEvent, duration, minLength float64) []Segment {
	return slices.Collect(Split(Events(events...), duration, minLength))
}

func TestSplitNoSilences(t *testing.T) {
	got := collect(nil, 100, 30)
	want := []Segment{{Index: 0, Start: 0, End: 100}}
	if !slices.Equal(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSplitAtSilenceMidpoints(t *testing.T) {
	events := []SilenceEvent{
		{End: 10, Duration: 2}, // split 9: too short, ignored
		{End: 41, Duration: 2}, // split 40
		{End: 55, Duration: 4}, // split 53: 13 < 30, ignored
		{End: 81, Duration: 2}, // split 80
	}
	got := collect(events, 95, 30)
	want := []Segment{
		{Index: 0, Start: 0, End: 40},
		{Index: 1, Start: 40, End: 80},
		{Index: 2, Start: 80, End: 95},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSplitSilencePastEnd(t *testing.T) {
	events := []SilenceEvent{{End: 130, Duration: 2}}
	got := collect(events, 100, 30)
	want := []Segment{{Index: 0, Start: 0, End: 100}}
	if !slices.Equal(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSplitZeroDuration(t *testing.T) {
	if got := collect([]SilenceEvent{{End: 1, Duration: 1}}, 0, 1); len(got) != 0 {
		t.Fatalf("got %+v, want none", got)
	}
}

func TestSplitIsLazy(t *testing.T) {
	pulled := 0
	events := func(yield func(SilenceEvent) bool) {
		for i := 1; i <= 100; i++ {
			pulled++
			if !yield(SilenceEvent{End: float64(i * 10), Duration: 0}) {
				return
			}
		}
	}
	for seg := range Split(events, 10000, 5) {
		if seg.Index == 1 {
			break
		}
	}
	if pulled != 2 {
		t.Fatalf("pulled %d events, want 2", pulled)
	}
}

// Segments cover [0, D) exactly and all but the last are at least minLength.
func TestSplitProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 500; trial++ {
		duration := 1 + rng.Float64()*5000
		minLength := rng.Float64() * 600
		var events []SilenceEvent
		at := 0.0
		for at < duration*1.1 {
			at += rng.Float64() * 200
			events = append(events, SilenceEvent{End: at, Duration: rng.Float64() * 5})
		}

		segs := collect(events, duration, minLength)
		if len(segs) == 0 {
			t.Fatalf("trial %d: no segments for duration %v", trial, duration)
		}
		if segs[0].Start != 0 {
			t.Fatalf("trial %d: first start = %v", trial, segs[0].Start)
		}
		if last := segs[len(segs)-1]; last.End != duration {
			t.Fatalf("trial %d: last end = %v, want %v", trial, last.End, duration)
		}
		for i, s := range segs {
			if s.Index != i {
				t.Fatalf("trial %d: index %d at position %d", trial, s.Index, i)
			}
			if s.End <= s.Start {
				t.Fatalf("trial %d: empty segment %+v", trial, s)
			}
			if i > 0 && segs[i-1].End != s.Start {
				t.Fatalf("trial %d: gap between %+v and %+v", trial, segs[i-1], s)
			}
			if i < len(segs)-1 && s.Length() < minLength {
				t.Fatalf("trial %d: segment %+v shorter than %v", trial, s, minLength)
			}
		}
	}
}
