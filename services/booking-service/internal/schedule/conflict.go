package schedule

import "time"

// Interval is a half-open busy interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// FilterAvailable keeps the candidates whose [t, t+duration) does not overlap
// any busy interval. Input order is preserved; the filter never reorders.
func FilterAvailable(candidates []time.Time, duration time.Duration, busy []Interval) []time.Time {
	out := make([]time.Time, 0, len(candidates))
	for _, t := range candidates {
		if !Overlaps(t, t.Add(duration), busy) {
			out = append(out, t)
		}
	}
	return out
}

// Overlaps reports whether [start, end) overlaps any busy interval under the
// half-open test: start < b.End && b.Start < end.
func Overlaps(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
