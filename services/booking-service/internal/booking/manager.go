package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/outbox"
	"github.com/dk-marin/bookslot/services/booking-service/internal/schedule"
)

type Config struct {
	// AutoConfirm creates appointments directly in status confirmed instead
	// of pending. Kept a deployment switch because provider-side confirmation
	// is a business policy, not core scheduling.
	AutoConfirm bool
	// DefaultStepMins is the slot grid step for providers without their own.
	DefaultStepMins int
}

// Manager is the booking core: it resolves operating windows, computes
// available slots, and reserves slots without double-booking.
type Manager struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewManager(store Store, logger *slog.Logger, cfg Config) *Manager {
	if cfg.DefaultStepMins <= 0 {
		cfg.DefaultStepMins = 15
	}
	return &Manager{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AvailableSlots returns the free slot starts for the provider/service/date,
// ascending. A closed day (or a weekday without a rule) yields an empty
// slice, not an error. Starts already in the past are dropped, so the
// answer is bookable as of the call.
func (m *Manager) AvailableSlots(ctx context.Context, providerID, serviceID string, day time.Time) ([]time.Time, error) {
	provider, err := m.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	svc, err := m.store.GetService(ctx, providerID, serviceID)
	if err != nil {
		return nil, err
	}

	window, open, err := m.resolveWindow(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	if !open {
		return []time.Time{}, nil
	}

	duration := time.Duration(svc.DurationMins) * time.Minute
	candidates, err := schedule.CandidateStarts(window, duration, m.step(provider))
	if err != nil {
		return nil, err
	}

	busy, err := m.store.BusyIntervals(ctx, providerID, window.Open, window.Close)
	if err != nil {
		return nil, fmt.Errorf("load busy intervals: %w", err)
	}

	now := m.now()
	available := schedule.FilterAvailable(candidates, duration, busy)
	out := make([]time.Time, 0, len(available))
	for _, s := range available {
		if s.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type BookRequest struct {
	ProviderID string
	ServiceID  string
	UserID     string
	Start      time.Time // desired slot start, UTC
}

// Book reserves the slot starting at req.Start. The availability re-check and
// the insert run inside the store's per-(provider, day) critical section, so
// of two attempts for overlapping intervals exactly one commits and the other
// observes ErrSlotTaken.
func (m *Manager) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	start := req.Start.UTC()
	now := m.now()
	if !start.After(now) {
		return model.Appointment{}, ErrPastDate
	}

	provider, err := m.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, err
	}
	svc, err := m.store.GetService(ctx, req.ProviderID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	window, open, err := m.resolveWindow(ctx, req.ProviderID, day)
	if err != nil {
		return model.Appointment{}, err
	}
	if !open {
		return model.Appointment{}, ErrProviderClosed
	}

	duration := time.Duration(svc.DurationMins) * time.Minute
	end := start.Add(duration)
	if start.Before(window.Open) || end.After(window.Close) {
		return model.Appointment{}, ErrProviderClosed
	}

	status := model.StatusPending
	if m.cfg.AutoConfirm {
		status = model.StatusConfirmed
	}
	appt := model.Appointment{
		ID:           uuid.NewString(),
		ProviderID:   provider.ID,
		ServiceID:    svc.ID,
		UserID:       req.UserID,
		StartTime:    start,
		EndTime:      end,
		DurationMins: svc.DurationMins,
		Status:       status,
		CreatedAt:    now,
	}

	err = m.store.WithDayLock(ctx, provider.ID, day, func(tx Tx) error {
		busy, err := tx.BusyIntervals(ctx, provider.ID, window.Open, window.Close)
		if err != nil {
			return fmt.Errorf("re-check busy intervals: %w", err)
		}
		if schedule.Overlaps(start, end, busy) {
			return ErrSlotTaken
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, bookedEvent(appt))
	})
	if err != nil {
		return model.Appointment{}, err
	}

	m.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"service_id", appt.ServiceID,
		"start", appt.StartTime.Format(time.RFC3339),
		"status", appt.Status,
	)
	return appt, nil
}

// Cancel flips the appointment to cancelled and frees its interval for
// subsequent bookings. Cancelling an already-cancelled appointment is a
// no-op returning the current record; completed appointments cannot be
// cancelled.
func (m *Manager) Cancel(ctx context.Context, providerID, appointmentID, reason string) (model.Appointment, error) {
	var out model.Appointment
	err := m.store.WithTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, providerID, appointmentID)
		if err != nil {
			return err
		}
		switch appt.Status {
		case model.StatusCancelled:
			out = appt
			return nil
		case model.StatusCompleted:
			return ErrNotCancellable
		}

		cancelledAt, err := tx.MarkCancelled(ctx, providerID, appointmentID, reason)
		if err != nil {
			return err
		}
		appt.Status = model.StatusCancelled
		appt.CancelledAt = &cancelledAt
		appt.CancelReason = reason
		out = appt
		return tx.AppendEvent(ctx, cancelledEvent(appt, reason))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func (m *Manager) ListAppointments(ctx context.Context, filter ListFilter) ([]model.Appointment, error) {
	return m.store.ListAppointments(ctx, filter)
}

func (m *Manager) resolveWindow(ctx context.Context, providerID string, day time.Time) (schedule.Window, bool, error) {
	rules, err := m.store.ListWorkingHours(ctx, providerID)
	if err != nil {
		return schedule.Window{}, false, fmt.Errorf("load working hours: %w", err)
	}
	return schedule.ResolveWindow(rules, day)
}

func (m *Manager) step(p model.Provider) time.Duration {
	step := p.SlotStepMins
	if step <= 0 {
		step = m.cfg.DefaultStepMins
	}
	return time.Duration(step) * time.Minute
}

func bookedEvent(appt model.Appointment) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"service_id":     appt.ServiceID,
		"user_id":        appt.UserID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}
}

func cancelledEvent(appt model.Appointment, reason string) outbox.Event {
	cancelledAt := ""
	if appt.CancelledAt != nil {
		cancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt,
		"reason":         reason,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}
}
