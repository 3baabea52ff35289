package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Occupies reports whether an appointment in the given status blocks its
// interval for new bookings. Cancelled frees the interval; completed is in
// the past and irrelevant.
func Occupies(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

type Appointment struct {
	ID           string
	ProviderID   string
	ServiceID    string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	DurationMins int // snapshot of Service.DurationMins at booking time
	Status       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}
