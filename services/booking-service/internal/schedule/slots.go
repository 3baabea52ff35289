package schedule

import (
	"errors"
	"time"
)

var ErrInvalidDuration = errors.New("service duration must be positive")

// CandidateStarts returns every start time t with t >= w.Open,
// t+duration <= w.Close, reachable from w.Open by whole multiples of step.
// The result is ascending and finite; it is empty when the duration does not
// fit the window at all. Step defaults to duration when non-positive so a
// degenerate configuration still yields a usable grid.
func CandidateStarts(w Window, duration, step time.Duration) ([]time.Time, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if step <= 0 {
		step = duration
	}
	if !w.Close.After(w.Open) {
		return nil, nil
	}
	if w.Open.Add(duration).After(w.Close) {
		return nil, nil
	}

	var starts []time.Time
	for t := w.Open; !t.Add(duration).After(w.Close); t = t.Add(step) {
		starts = append(starts, t)
	}
	return starts, nil
}
