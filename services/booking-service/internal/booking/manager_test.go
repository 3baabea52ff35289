package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/outbox"
	"github.com/dk-marin/bookslot/services/booking-service/internal/schedule"
)

// fakeStore is an in-memory Store. WithDayLock serializes callers through a
// per-(provider, day) mutex, mirroring the advisory-lock behavior of the
// Postgres store.
type fakeStore struct {
	mu        sync.Mutex
	providers map[string]model.Provider
	services  map[string]model.Service
	rules     map[string][]model.WorkingHoursRule
	appts     map[string]model.Appointment
	events    []outbox.Event
	dayLocks  map[string]*sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		providers: map[string]model.Provider{},
		services:  map[string]model.Service{},
		rules:     map[string][]model.WorkingHoursRule{},
		appts:     map[string]model.Appointment{},
		dayLocks:  map[string]*sync.Mutex{},
	}
}

func (s *fakeStore) GetProvider(_ context.Context, providerID string) (model.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[providerID]
	if !ok || !p.IsActive {
		return model.Provider{}, ErrProviderNotFound
	}
	return p, nil
}

func (s *fakeStore) GetService(_ context.Context, providerID, serviceID string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok || svc.ProviderID != providerID || !svc.IsActive {
		return model.Service{}, ErrInvalidService
	}
	return svc, nil
}

func (s *fakeStore) ListWorkingHours(_ context.Context, providerID string) ([]model.WorkingHoursRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[providerID], nil
}

func (s *fakeStore) BusyIntervals(ctx context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked(providerID, from, to), nil
}

func (s *fakeStore) busyLocked(providerID string, from, to time.Time) []schedule.Interval {
	var busy []schedule.Interval
	for _, a := range s.appts {
		if a.ProviderID != providerID || !model.Occupies(a.Status) {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime) {
			busy = append(busy, schedule.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return busy
}

func (s *fakeStore) ListAppointments(_ context.Context, filter ListFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if filter.ProviderID != "" && a.ProviderID != filter.ProviderID {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && string(a.Status) != filter.Status {
			continue
		}
		out = append(out, a)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fakeStore) WithDayLock(_ context.Context, providerID string, day time.Time, fn func(tx Tx) error) error {
	key := providerID + "|" + day.Format("2006-01-02")
	s.mu.Lock()
	lock := s.dayLocks[key]
	if lock == nil {
		lock = &sync.Mutex{}
		s.dayLocks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	return fn(&fakeTx{store: s})
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) BusyIntervals(_ context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.busyLocked(providerID, from, to), nil
}

func (t *fakeTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.appts[appt.ID] = *appt
	return nil
}

func (t *fakeTx) GetAppointmentForUpdate(_ context.Context, providerID, appointmentID string) (model.Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a, ok := t.store.appts[appointmentID]
	if !ok || a.ProviderID != providerID {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return a, nil
}

func (t *fakeTx) MarkCancelled(_ context.Context, providerID, appointmentID, reason string) (time.Time, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	a := t.store.appts[appointmentID]
	now := time.Now().UTC()
	a.Status = model.StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = reason
	t.store.appts[appointmentID] = a
	return now, nil
}

func (t *fakeTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.events = append(t.store.events, evt)
	return nil
}

// Monday 2026-03-02, provider open 09:00-12:00, 60 min service, 30 min step.
func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.providers["prov-1"] = model.Provider{ID: "prov-1", Name: "Sparkle Car Wash", SlotStepMins: 30, IsActive: true}
	store.services["svc-1"] = model.Service{ID: "svc-1", ProviderID: "prov-1", Name: "Full Wash", DurationMins: 60, IsActive: true}
	store.rules["prov-1"] = []model.WorkingHoursRule{
		{ProviderID: "prov-1", Weekday: 1, OpenMinute: 9 * 60, CloseMinute: 12 * 60},
		{ProviderID: "prov-1", Weekday: 2, Closed: true},
	}

	m := NewManager(store, slog.Default(), cfg)
	// Fixed clock: Sunday noon, the day before the bookings under test.
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m, store
}

var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func hhmm(ts []time.Time) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Format("15:04"))
	}
	return out
}

func assertSlots(t *testing.T, got []time.Time, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected slots %v, got %v", want, hhmm(got))
	}
	for i, w := range want {
		if got[i].Format("15:04") != w {
			t.Fatalf("expected slots %v, got %v", want, hhmm(got))
		}
	}
}

func TestAvailableSlots_OpenDay(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "09:30", "10:00", "10:30", "11:00")
}

func TestAvailableSlots_ElapsedStartsDropped(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	// Query mid-window on the day itself: starts at or before 10:15 are gone.
	m.now = func() time.Time { return time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC) }

	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "10:30", "11:00")
}

func TestAvailableSlots_ClosedDay(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	tuesday := testDay.AddDate(0, 0, 1)
	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", tuesday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed day, got %v", hhmm(slots))
	}
}

func TestAvailableSlots_ExistingAppointmentBlocks(t *testing.T) {
	m, store := newTestManager(t, Config{})
	store.appts["a1"] = model.Appointment{
		ID: "a1", ProviderID: "prov-1", ServiceID: "svc-1",
		StartTime: testDay.Add(10 * time.Hour),
		EndTime:   testDay.Add(11 * time.Hour),
		Status:    model.StatusConfirmed,
	}

	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:30, 10:00, 10:30 all overlap 10:00-11:00 for a 60 min service.
	assertSlots(t, slots, "09:00", "11:00")
}

func TestAvailableSlots_CancelledDoesNotBlock(t *testing.T) {
	m, store := newTestManager(t, Config{})
	store.appts["a1"] = model.Appointment{
		ID: "a1", ProviderID: "prov-1", ServiceID: "svc-1",
		StartTime: testDay.Add(10 * time.Hour),
		EndTime:   testDay.Add(11 * time.Hour),
		Status:    model.StatusCancelled,
	}

	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "09:30", "10:00", "10:30", "11:00")
}

func TestAvailableSlots_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	first, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("availability changed with no intervening bookings: %v vs %v", hhmm(first), hhmm(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("availability changed with no intervening bookings: %v vs %v", hhmm(first), hhmm(second))
		}
	}
}

func TestAvailableSlots_UnknownProvider(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.AvailableSlots(context.Background(), "nope", "svc-1", testDay)
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestBook_Success(t *testing.T) {
	m, store := newTestManager(t, Config{})
	appt, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending status by default, got %s", appt.Status)
	}
	if appt.DurationMins != 60 {
		t.Fatalf("expected duration snapshot 60, got %d", appt.DurationMins)
	}
	if !appt.EndTime.Equal(testDay.Add(11 * time.Hour)) {
		t.Fatalf("expected end 11:00, got %s", appt.EndTime.Format("15:04"))
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.EventAppointmentBooked {
		t.Fatalf("expected one booked event, got %+v", store.events)
	}
}

func TestBook_AutoConfirm(t *testing.T) {
	m, _ := newTestManager(t, Config{AutoConfirm: true})
	appt, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.Add(9 * time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", appt.Status)
	}
}

func TestBook_ClosedDay(t *testing.T) {
	m, store := newTestManager(t, Config{})
	// A stray busy-set row on a closed day must not change the outcome.
	tuesday := testDay.AddDate(0, 0, 1)
	store.appts["stray"] = model.Appointment{
		ID: "stray", ProviderID: "prov-1",
		StartTime: tuesday.Add(10 * time.Hour), EndTime: tuesday.Add(11 * time.Hour),
		Status: model.StatusConfirmed,
	}

	_, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: tuesday.Add(10 * time.Hour),
	})
	if !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestBook_OutsideWindow(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	// 11:30 + 60 min runs past the 12:00 close.
	_, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.Add(11*time.Hour + 30*time.Minute),
	})
	if !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestBook_PastDate(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.AddDate(0, 0, -7).Add(10 * time.Hour),
	})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("expected ErrPastDate, got %v", err)
	}
}

func TestBook_InvalidService(t *testing.T) {
	m, store := newTestManager(t, Config{})
	store.services["svc-other"] = model.Service{ID: "svc-other", ProviderID: "prov-2", DurationMins: 30, IsActive: true}

	_, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-other", UserID: "user-1",
		Start: testDay.Add(10 * time.Hour),
	})
	if !errors.Is(err, ErrInvalidService) {
		t.Fatalf("expected ErrInvalidService, got %v", err)
	}
}

func TestBook_SlotTaken(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	first := BookRequest{ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1", Start: testDay.Add(10 * time.Hour)}
	if _, err := m.Book(context.Background(), first); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// Overlapping, not identical: 10:30-11:30 vs the booked 10:00-11:00.
	_, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-2",
		Start: testDay.Add(10*time.Hour + 30*time.Minute),
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Book(context.Background(), BookRequest{
				ProviderID: "prov-1", ServiceID: "svc-1",
				UserID: fmt.Sprintf("user-%d", i),
				Start:  testDay.Add(10 * time.Hour),
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotTaken):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", won, lost)
	}
}

func TestCancel_RestoresAvailability(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	appt, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	slots, err := m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "11:00")

	cancelled, err := m.Cancel(context.Background(), "prov-1", appt.ID, "customer request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	slots, err = m.AvailableSlots(context.Background(), "prov-1", "svc-1", testDay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "09:30", "10:00", "10:30", "11:00")
}

func TestCancel_Idempotent(t *testing.T) {
	m, store := newTestManager(t, Config{})
	appt, err := m.Book(context.Background(), BookRequest{
		ProviderID: "prov-1", ServiceID: "svc-1", UserID: "user-1",
		Start: testDay.Add(9 * time.Hour),
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if _, err := m.Cancel(context.Background(), "prov-1", appt.ID, "first"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	eventsAfterFirst := len(store.events)

	again, err := m.Cancel(context.Background(), "prov-1", appt.ID, "second")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if again.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", again.Status)
	}
	if len(store.events) != eventsAfterFirst {
		t.Fatal("idempotent cancel must not emit another event")
	}
}

func TestCancel_CompletedRejected(t *testing.T) {
	m, store := newTestManager(t, Config{})
	store.appts["done"] = model.Appointment{
		ID: "done", ProviderID: "prov-1", Status: model.StatusCompleted,
		StartTime: testDay.Add(9 * time.Hour), EndTime: testDay.Add(10 * time.Hour),
	}

	_, err := m.Cancel(context.Background(), "prov-1", "done", "too late")
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	_, err := m.Cancel(context.Background(), "prov-1", "missing", "")
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}
