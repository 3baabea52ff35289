package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestResolveWindow_OpenDay(t *testing.T) {
	rules := []model.WorkingHoursRule{
		{Weekday: 1, OpenMinute: 9 * 60, CloseMinute: 12 * 60},
		{Weekday: 2, Closed: true},
	}

	w, ok, err := ResolveWindow(rules, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected monday to be open")
	}
	if !w.Open.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("expected open 09:00, got %s", w.Open.Format(time.RFC3339))
	}
	if !w.Close.Equal(monday.Add(12 * time.Hour)) {
		t.Fatalf("expected close 12:00, got %s", w.Close.Format(time.RFC3339))
	}
}

func TestResolveWindow_ClosedFlag(t *testing.T) {
	rules := []model.WorkingHoursRule{
		// Closed rules may carry stale minute values; they must be ignored.
		{Weekday: 1, Closed: true, OpenMinute: 9 * 60, CloseMinute: 17 * 60},
	}

	_, ok, err := ResolveWindow(rules, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected closed day")
	}
}

func TestResolveWindow_NoRuleIsClosed(t *testing.T) {
	rules := []model.WorkingHoursRule{
		{Weekday: 2, OpenMinute: 9 * 60, CloseMinute: 17 * 60},
	}

	_, ok, err := ResolveWindow(rules, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected weekday without rule to resolve as closed")
	}
}

func TestResolveWindow_MalformedRule(t *testing.T) {
	rules := []model.WorkingHoursRule{
		{Weekday: 1, OpenMinute: 17 * 60, CloseMinute: 9 * 60},
	}

	_, _, err := ResolveWindow(rules, monday)
	if !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected ErrMalformedRule, got %v", err)
	}
}

func TestResolveWindow_WeekdayMapping(t *testing.T) {
	rules := make([]model.WorkingHoursRule, 0, 7)
	for wd := 0; wd <= 6; wd++ {
		rules = append(rules, model.WorkingHoursRule{
			Weekday:     wd,
			Closed:      wd == 0 || wd == 6,
			OpenMinute:  8 * 60,
			CloseMinute: 16 * 60,
		})
	}

	// Sunday 2026-03-01 through Saturday 2026-03-07.
	for d := 0; d < 7; d++ {
		day := time.Date(2026, 3, 1+d, 0, 0, 0, 0, time.UTC)
		_, ok, err := ResolveWindow(rules, day)
		if err != nil {
			t.Fatalf("day %d: unexpected error: %v", d, err)
		}
		weekend := day.Weekday() == time.Sunday || day.Weekday() == time.Saturday
		if ok == weekend {
			t.Fatalf("day %s: open=%v, want %v", day.Weekday(), ok, !weekend)
		}
	}
}
