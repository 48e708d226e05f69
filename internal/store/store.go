// Package store defines the persistence and collaborator interfaces the
// delivery engine is built against. The builder and runner never talk to each
// other directly; all shared state goes through a JobStore.
package store

import (
	"context"
	"errors"
	"time"

	"crewcall/internal/models"
	"crewcall/internal/state"
)

var ErrNotFound = errors.New("not found")

// UpsertJobParams creates or refreshes a job for one logical identity.
// The store derives the deterministic job key from (org, kind, entity) and
// performs a single atomic upsert against its uniqueness constraint, so
// concurrent builders converge on one row.
type UpsertJobParams struct {
	OrgID       int64
	Kind        models.MessageKind
	EventID     *int64
	ShiftID     *int64
	SendAt      time.Time
	Status      state.JobStatus
	LastError   *string
	MaxAttempts int
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Kind     *models.MessageKind
	Statuses []state.JobStatus
	HideSent bool
}

// JobStore is the single shared mutable resource of the engine.
//
// ClaimDue must implement claim-and-skip: rows claimed by one caller are
// silently invisible to a concurrent caller, never an error. A claim is
// recorded as (locked_by, locked_at) and honored until claimTTL passes, so a
// crashed runner's claims expire rather than wedging the job. The Mark*/
// Release methods are the optimistic commit point: they only apply when
// claimedBy still holds the claim (an empty claimedBy bypasses the check for
// the manual-send path) and report whether they did.
type JobStore interface {
	UpsertJob(ctx context.Context, p UpsertJobParams) (*models.ScheduledJob, error)
	FindByKey(ctx context.Context, jobKey string) (*models.ScheduledJob, error)
	FindByID(ctx context.Context, jobID int64) (*models.ScheduledJob, error)
	UpdateStatus(ctx context.Context, jobID int64, status state.JobStatus, lastError *string) error
	UpdateSendAt(ctx context.Context, jobID int64, sendAt time.Time) error

	// DueOrgIDs lists organizations that currently have claimable jobs.
	DueOrgIDs(ctx context.Context, now time.Time) ([]int64, error)

	// ClaimDue selects and claims up to limit due jobs in one atomic step:
	// status in (scheduled, retrying), enabled, send_at <= now, attempts not
	// exhausted, not claimed by a live runner. orgID nil means all orgs.
	ClaimDue(ctx context.Context, orgID *int64, now time.Time, limit int, claimedBy string, claimTTL time.Duration) ([]models.ScheduledJob, error)

	// MarkSent finalizes a successful delivery with its audit snapshot.
	MarkSent(ctx context.Context, jobID int64, claimedBy string, sentAt time.Time, recipientName, recipientPhone string) (bool, error)

	// MarkSendFailure increments attempt_count and applies the retry
	// controller's decision (retrying with a new send_at, or terminal failed).
	MarkSendFailure(ctx context.Context, jobID int64, claimedBy string, status state.JobStatus, nextSendAt *time.Time, lastError string) (bool, error)

	// Release ends processing of a claimed job without a send attempt:
	// skipped, blocked, or postponed (status scheduled with a new send_at).
	Release(ctx context.Context, jobID int64, claimedBy string, status state.JobStatus, sendAt *time.Time, lastError *string) (bool, error)

	ListJobs(ctx context.Context, orgID int64, filter JobFilter) ([]models.ScheduledJob, error)
	SetEnabled(ctx context.Context, jobID int64, enabled bool) error
	DeleteTerminalOlderThan(ctx context.Context, orgID int64, age time.Duration) (int64, error)
}

// EventSource, ShiftSource and SettingsSource are read-only views of domain
// state owned by other parts of the system.
type EventSource interface {
	EventByID(ctx context.Context, orgID, eventID int64) (*models.EventSnapshot, error)
}

type ShiftSource interface {
	ShiftByID(ctx context.Context, orgID, shiftID int64) (*models.ShiftSnapshot, error)
	ShiftsForEvent(ctx context.Context, orgID, eventID int64) ([]models.ShiftSnapshot, error)
}

type SettingsSource interface {
	SettingsFor(ctx context.Context, orgID int64) (*models.SchedulerSettings, error)
}

// DedupeOracle answers whether an equivalent message already reached the
// recipient through another channel (manual send, conversation flow).
type DedupeOracle interface {
	WasAlreadySent(ctx context.Context, orgID int64, kind models.MessageKind, eventID, shiftID *int64, recipientPhone string) (bool, error)
}

// Sender dispatches one message through the outbound provider and returns the
// provider's message ID. Implementations live outside this engine.
type Sender interface {
	Send(ctx context.Context, phone string, kind models.MessageKind, vars map[string]string) (string, error)
}
