package model

import "time"

// Provider is a business end users book appointments with. Providers are
// never hard-deleted while appointments reference them; deactivation hides
// them from booking instead.
type Provider struct {
	ID           string
	Name         string
	SlotStepMins int
	IsActive     bool
	CreatedAt    time.Time
}

// WorkingHoursRule is the operating interval for one weekday. Weekday follows
// time.Weekday numbering (Sunday = 0). At most one rule exists per
// (provider, weekday); the storage layer upserts on that pair. When Closed is
// set the minute fields are ignored.
type WorkingHoursRule struct {
	ProviderID  string
	Weekday     int
	Closed      bool
	OpenMinute  int // minutes from midnight
	CloseMinute int
}

// Service is something a provider offers. DurationMins drives slot length;
// appointments snapshot it at booking time so later edits never invalidate
// history.
type Service struct {
	ID           string
	ProviderID   string
	Name         string
	DurationMins int
	Price        string
	IsActive     bool
	CreatedAt    time.Time
}
