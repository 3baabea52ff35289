package booking

import (
	"context"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/outbox"
	"github.com/dk-marin/bookslot/services/booking-service/internal/schedule"
)

// Store is the persistence contract the manager runs against. The Postgres
// implementation lives in internal/storage; tests use an in-memory fake.
type Store interface {
	// GetProvider returns ErrProviderNotFound for unknown or deactivated
	// providers.
	GetProvider(ctx context.Context, providerID string) (model.Provider, error)
	// GetService returns ErrInvalidService when the service does not belong
	// to the provider or is inactive.
	GetService(ctx context.Context, providerID, serviceID string) (model.Service, error)
	ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHoursRule, error)
	// BusyIntervals returns the intervals of pending/confirmed appointments
	// overlapping [from, to), ascending by start.
	BusyIntervals(ctx context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error)
	// ListAppointments returns appointments matching the filter, most recent
	// start first. At least one of ProviderID or UserID is set by callers.
	ListAppointments(ctx context.Context, filter ListFilter) ([]model.Appointment, error)

	// WithDayLock runs fn inside a transaction holding the (provider, day)
	// booking lock, so availability re-checks and the insert are indivisible
	// with respect to other bookers of the same day. Returns ErrLockTimeout
	// when the lock cannot be acquired within the store's bounded wait.
	WithDayLock(ctx context.Context, providerID string, day time.Time, fn func(tx Tx) error) error
	// WithTx runs fn inside a plain transaction (no day lock). Used for
	// cancellation, which contends on the appointment row only.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// ListFilter narrows ListAppointments. Empty fields are ignored.
type ListFilter struct {
	ProviderID string
	UserID     string
	Status     string
	Limit      int
}

// Tx is the transaction-scoped surface handed to WithDayLock/WithTx callbacks.
type Tx interface {
	BusyIntervals(ctx context.Context, providerID string, from, to time.Time) ([]schedule.Interval, error)
	// InsertAppointment returns ErrSlotTaken when the row collides with the
	// overlap constraint despite the lock-guarded re-check.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, providerID, appointmentID string) (model.Appointment, error)
	MarkCancelled(ctx context.Context, providerID, appointmentID, reason string) (time.Time, error)
	AppendEvent(ctx context.Context, evt outbox.Event) error
}
