package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
)

// ErrMalformedRule marks a working-hours rule whose open time is not strictly
// before its close time. Such rules are a data error, not a closed day.
var ErrMalformedRule = errors.New("working hours rule open must be before close")

// Window is the operating interval of a provider on a concrete date.
// Open and Close are instants on that date; Open < Close always holds for a
// resolved window.
type Window struct {
	Open  time.Time
	Close time.Time
}

func (w Window) Duration() time.Duration {
	return w.Close.Sub(w.Open)
}

// ResolveWindow maps day to its weekday and finds the matching rule.
// It returns ok=false when the day has no rule or the rule marks the day
// closed. Day is expected at midnight UTC; the window is built on the same
// date.
func ResolveWindow(rules []model.WorkingHoursRule, day time.Time) (Window, bool, error) {
	weekday := int(day.Weekday())
	for _, rule := range rules {
		if rule.Weekday != weekday {
			continue
		}
		if rule.Closed {
			return Window{}, false, nil
		}
		if rule.OpenMinute >= rule.CloseMinute {
			return Window{}, false, fmt.Errorf("%w: weekday %d open=%d close=%d",
				ErrMalformedRule, rule.Weekday, rule.OpenMinute, rule.CloseMinute)
		}
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		return Window{
			Open:  midnight.Add(time.Duration(rule.OpenMinute) * time.Minute),
			Close: midnight.Add(time.Duration(rule.CloseMinute) * time.Minute),
		}, true, nil
	}
	// No rule for this weekday is the same as closed for callers.
	return Window{}, false, nil
}
