// Package segment splits long audio into contiguous segments at silences.
package segment

import "iter"

// Segment is a half-open interval [Start, End) of the audio, in seconds.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns End - Start
func (s Segment) Length() float64 {
	return s.End - s.Start
}

// SilenceEvent is one detected silence: where it ended and how long it lasted
type SilenceEvent struct {
	End      float64
	Duration float64
}

// Split turns a stream of silence events into contiguous segments covering
// [0, duration). Each silence proposes a split point at its midpoint; the
// proposal is taken only if the segment it closes is at least minLength long.
// The trailing segment may be shorter than minLength.
//
// Split points past duration are clamped to duration, so segments never
// extend beyond the audio. Split is lazy: segments are yielded as soon as
// the closing event arrives.
func Split(events iter.Seq[SilenceEvent], duration, minLength float64) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		if duration <= 0 {
			return
		}

		cur := 0.0
		index := 0
		for ev := range events {
			if cur >= duration {
				continue
			}
			split := ev.End - ev.Duration/2
			if split > duration {
				split = duration
			}
			if split <= cur || split-cur < minLength {
				continue
			}
			if !yield(Segment{Index: index, Start: cur, End: split}) {
				return
			}
			cur = split
			index++
		}

		if duration > cur {
			yield(Segment{Index: index, Start: cur, End: duration})
		}
	}
}

// Events adapts a slice to an event sequence
func Events(evs ...SilenceEvent) iter.Seq[SilenceEvent] {
	return func(yield func(SilenceEvent) bool) {
		for _, ev := range evs {
			if !yield(ev) {
				return
			}
		}
	}
}
