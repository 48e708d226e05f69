package models

import "time"

// Contact is a person a message can be addressed to: an event contact or an
// employee. Phone is stored as entered; validation happens at resolve time.
type Contact struct {
	ID    int64
	Name  string
	Phone string
}

// EventSnapshot is the read-only view of an event the engine schedules against.
type EventSnapshot struct {
	EventID int64
	OrgID   int64
	Name    string

	// AnchorDate is the event date; only its calendar day matters.
	AnchorDate time.Time

	// LoadInPresent means the event has an explicit load-in time, which
	// implies first contact is handled by a different workflow entirely.
	LoadInPresent bool

	TechnicalContact *Contact
	ProducerContact  *Contact
}

// ShiftSnapshot is the read-only view of a crew shift.
type ShiftSnapshot struct {
	ShiftID  int64
	OrgID    int64
	EventID  int64
	CallTime time.Time
	Role     string
	Employee *Contact
}
