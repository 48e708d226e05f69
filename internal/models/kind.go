package models

import "fmt"

// MessageKind is the closed set of message types the engine delivers.
type MessageKind string

const (
	// KindInit is the first-contact message to an event's producer/technical contact.
	KindInit MessageKind = "INIT"
	// KindTechReminder reminds the technical contact ahead of the event.
	KindTechReminder MessageKind = "TECH_REMINDER"
	// KindShiftReminder reminds an assigned crew member ahead of their call time.
	KindShiftReminder MessageKind = "SHIFT_REMINDER"
)

var AllKinds = []MessageKind{KindInit, KindTechReminder, KindShiftReminder}

func (k MessageKind) String() string {
	return string(k)
}

func (k MessageKind) Valid() bool {
	switch k {
	case KindInit, KindTechReminder, KindShiftReminder:
		return true
	}
	return false
}

// AppliesWeekendRule reports whether send times for this kind are moved off
// Friday/Saturday onto Sunday. Only first-contact messages honor the weekend;
// reminders go out whenever they are due.
func (k MessageKind) AppliesWeekendRule() bool {
	return k == KindInit
}

// EntityType names the domain entity a job of this kind targets.
func (k MessageKind) EntityType() string {
	switch k {
	case KindInit, KindTechReminder:
		return "event"
	case KindShiftReminder:
		return "shift"
	default:
		return "unknown"
	}
}

// JobKey derives the deterministic storage key for a job identity. The same
// (org, kind, entity) always maps to the same key, which backs the unique
// constraint the store upserts against.
func JobKey(orgID int64, kind MessageKind, entityID int64) string {
	return fmt.Sprintf("org_%d_%s_%d_%s", orgID, kind.EntityType(), entityID, kind)
}
