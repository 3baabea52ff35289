package booking

import "errors"

// Input and state errors are terminal for the request; ErrSlotTaken and
// ErrLockTimeout are contention outcomes the caller may retry after
// re-fetching availability.
var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderClosed      = errors.New("provider is closed at the requested time")
	ErrInvalidService      = errors.New("service does not belong to the provider or is inactive")
	ErrPastDate            = errors.New("requested time has already elapsed")
	ErrSlotTaken           = errors.New("slot no longer available")
	ErrLockTimeout         = errors.New("booking lock wait timed out")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotCancellable      = errors.New("appointment can no longer be cancelled")
)
