package models

import (
	"time"

	"crewcall/internal/state"
)

// ScheduledJob is one scheduled message targeted at one domain entity.
// Exactly one of EventID/ShiftID is set, depending on the kind.
type ScheduledJob struct {
	ID      int64       `json:"job_id"`
	JobKey  string      `json:"job_key"`
	OrgID   int64       `json:"org_id"`
	Kind    MessageKind `json:"message_kind"`
	EventID *int64      `json:"event_id,omitempty"`
	ShiftID *int64      `json:"shift_id,omitempty"`

	SendAt       time.Time       `json:"send_at"`
	Status       state.JobStatus `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	IsEnabled    bool            `json:"is_enabled"`

	// Audit fields written on transitions.
	LastError          *string    `json:"last_error,omitempty"`
	LastRecipientName  *string    `json:"last_recipient_name,omitempty"`
	LastRecipientPhone *string    `json:"last_recipient_phone,omitempty"`
	SentAt             *time.Time `json:"sent_at,omitempty"`

	// Claim bookkeeping for concurrent runners.
	LockedBy *string    `json:"-"`
	LockedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the event or shift ID the job targets.
func (j *ScheduledJob) EntityID() int64 {
	if j.ShiftID != nil {
		return *j.ShiftID
	}
	if j.EventID != nil {
		return *j.EventID
	}
	return 0
}
