// Package resolve maps a scheduled job to its recipient.
//
// Resolution is a pure function over read-only domain snapshots; it never
// touches storage and never mutates anything.
package resolve

import (
	"crewcall/internal/models"
	"crewcall/internal/phone"
)

// Reason is a structured failure code surfaced to the UI and audit log.
type Reason string

const (
	ReasonNoValidPhone        Reason = "NO_VALID_PHONE"
	ReasonEmployeeNotAssigned Reason = "EMPLOYEE_NOT_ASSIGNED"
	ReasonEntityMissing       Reason = "ENTITY_MISSING"
	ReasonUnknownKind         Reason = "UNKNOWN_KIND"
)

// Result is the outcome of recipient resolution.
type Result struct {
	Success bool
	Reason  Reason

	// Populated on success. Phone is E.164-normalized.
	Phone           string
	DisplayName     string
	MatchedEntityID int64
}

func failure(reason Reason) Result {
	return Result{Reason: reason}
}

// Recipient resolves the recipient for a job of the given kind. Event must be
// set for INIT/TECH_REMINDER, shift for SHIFT_REMINDER; a missing snapshot
// resolves to ENTITY_MISSING rather than an error.
func Recipient(kind models.MessageKind, event *models.EventSnapshot, shift *models.ShiftSnapshot) Result {
	switch kind {
	case models.KindInit, models.KindTechReminder:
		// Both event kinds prefer the technical contact and fall back to the
		// producer. The kinds differ in scheduling, not addressing.
		if event == nil {
			return failure(ReasonEntityMissing)
		}
		return fromContacts(event.TechnicalContact, event.ProducerContact)

	case models.KindShiftReminder:
		if shift == nil {
			return failure(ReasonEntityMissing)
		}
		if shift.Employee == nil {
			return failure(ReasonEmployeeNotAssigned)
		}
		return fromContacts(shift.Employee)

	default:
		return failure(ReasonUnknownKind)
	}
}

// fromContacts returns the first candidate with a valid phone.
func fromContacts(candidates ...*models.Contact) Result {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if normalized, ok := phone.Validate(c.Phone); ok {
			return Result{
				Success:         true,
				Phone:           normalized,
				DisplayName:     c.Name,
				MatchedEntityID: c.ID,
			}
		}
	}
	return failure(ReasonNoValidPhone)
}
