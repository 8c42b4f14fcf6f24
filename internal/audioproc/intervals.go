// Package audioproc cuts detected ad breaks out of stored audio.
package audioproc

import (
	"sort"

	"github.com/Valleeh/podcleaner/internal/models"
)

// Interval is a time span of audio in seconds.
type Interval struct {
	Start float64
	End   float64
}

// AdIntervals collects the spans of ad-marked segments.
func AdIntervals(segments []models.Segment) []Interval {
	var intervals []Interval
	for _, seg := range segments {
		if seg.IsAd {
			intervals = append(intervals, Interval{Start: seg.Start, End: seg.End})
		}
	}
	return intervals
}

// MergeIntervals merges the intervals into the cut set: spans closer than
// maxGap seconds fuse into one cut, and cuts shorter than minDuration are
// dropped. Cutting many short spans produces audible stutter; one slightly
// generous cut per ad break does not.
func MergeIntervals(intervals []Interval, minDuration, maxGap float64) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var merged []Interval
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start <= current.End+maxGap {
			if next.End > current.End {
				current.End = next.End
			}
			continue
		}
		if current.End-current.Start >= minDuration {
			merged = append(merged, current)
		}
		current = next
	}
	if current.End-current.Start >= minDuration {
		merged = append(merged, current)
	}
	return merged
}
