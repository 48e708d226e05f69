// Package builder derives scheduled delivery jobs from domain state. Rebuild
// calls are idempotent: unchanged domain state produces zero store writes and
// an up-to-date outcome.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crewcall/internal/models"
	"crewcall/internal/resolve"
	"crewcall/internal/schedule"
	"crewcall/internal/state"
	"crewcall/internal/store"
)

// Outcome reports what a rebuild did for one job identity.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeUpdated     Outcome = "updated"
	OutcomeUpToDate    Outcome = "up_to_date"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDisabled    Outcome = "disabled"
	OutcomeAlreadyDone Outcome = "already_done"
)

// Structured reasons stored in last_error for non-resolver blocks and skips.
const (
	ReasonHasLoadInTime = "has_load_in_time"
	ReasonNoShiftsYet   = "no_shifts_or_employees_yet"
)

// KindResult is the per-identity report of a rebuild.
type KindResult struct {
	Kind     models.MessageKind `json:"kind"`
	EntityID int64              `json:"entity_id"`
	Outcome  Outcome            `json:"outcome"`
	Status   state.JobStatus    `json:"status,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	JobID    int64              `json:"job_id,omitempty"`
}

type Builder struct {
	jobs     store.JobStore
	events   store.EventSource
	shifts   store.ShiftSource
	settings store.SettingsSource

	loc         *time.Location
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Builder)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func New(jobs store.JobStore, events store.EventSource, shifts store.ShiftSource, settings store.SettingsSource, loc *time.Location, maxAttempts int, logger *zap.Logger, opts ...Option) *Builder {
	b := &Builder{
		jobs:        jobs,
		events:      events,
		shifts:      shifts,
		settings:    settings,
		loc:         loc,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RebuildEvent synchronizes the INIT and TECH_REMINDER jobs of one event with
// current domain state.
func (b *Builder) RebuildEvent(ctx context.Context, orgID, eventID int64) ([]KindResult, error) {
	event, err := b.events.EventByID(ctx, orgID, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}
	settings, err := b.settings.SettingsFor(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load settings for org %d: %w", orgID, err)
	}
	shifts, err := b.shifts.ShiftsForEvent(ctx, orgID, eventID)
	if err != nil {
		return nil, fmt.Errorf("load shifts for event %d: %w", eventID, err)
	}

	var results []KindResult
	for _, kind := range []models.MessageKind{models.KindInit, models.KindTechReminder} {
		res, err := b.rebuildEventKind(ctx, event, kind, settings, len(shifts))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// RebuildShifts synchronizes the SHIFT_REMINDER job of every shift of an
// event, each identity independently.
func (b *Builder) RebuildShifts(ctx context.Context, orgID, eventID int64) ([]KindResult, error) {
	settings, err := b.settings.SettingsFor(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load settings for org %d: %w", orgID, err)
	}
	shifts, err := b.shifts.ShiftsForEvent(ctx, orgID, eventID)
	if err != nil {
		return nil, fmt.Errorf("load shifts for event %d: %w", eventID, err)
	}

	results := make([]KindResult, 0, len(shifts))
	for i := range shifts {
		res, err := b.rebuildShiftKind(ctx, &shifts[i], settings)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (b *Builder) rebuildEventKind(ctx context.Context, event *models.EventSnapshot, kind models.MessageKind, settings *models.SchedulerSettings, shiftCount int) (KindResult, error) {
	result := KindResult{Kind: kind, EntityID: event.EventID}
	key := models.JobKey(event.OrgID, kind, event.EventID)

	existing, err := b.jobs.FindByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return result, fmt.Errorf("find job %s: %w", key, err)
	}
	if existing != nil && existing.Status.Terminal() {
		result.Outcome = OutcomeAlreadyDone
		result.Status = existing.Status
		result.JobID = existing.ID
		return result, nil
	}

	// An explicit load-in time means first contact is covered elsewhere.
	if kind == models.KindInit && event.LoadInPresent {
		return b.suppress(ctx, result, existing, ReasonHasLoadInTime)
	}

	if !settings.KindEnabled(kind) {
		result.Outcome = OutcomeDisabled
		if existing != nil {
			result.Status = existing.Status
			result.JobID = existing.ID
		}
		return result, nil
	}

	ks := settings.ForKind(kind)
	sendAt := schedule.ComputeSendAt(event.AnchorDate, ks.SendTime, ks.DaysBefore, b.now(), kind.AppliesWeekendRule(), b.loc)

	desired := state.StatusScheduled
	var reason *string
	if kind == models.KindTechReminder && shiftCount == 0 {
		desired = state.StatusBlocked
		r := ReasonNoShiftsYet
		reason = &r
	} else if rr := resolve.Recipient(kind, event, nil); !rr.Success {
		desired = state.StatusBlocked
		r := string(rr.Reason)
		reason = &r
	}

	return b.sync(ctx, result, existing, store.UpsertJobParams{
		OrgID:       event.OrgID,
		Kind:        kind,
		EventID:     &event.EventID,
		SendAt:      sendAt,
		Status:      desired,
		LastError:   reason,
		MaxAttempts: b.maxAttempts,
	})
}

func (b *Builder) rebuildShiftKind(ctx context.Context, shift *models.ShiftSnapshot, settings *models.SchedulerSettings) (KindResult, error) {
	kind := models.KindShiftReminder
	result := KindResult{Kind: kind, EntityID: shift.ShiftID}
	key := models.JobKey(shift.OrgID, kind, shift.ShiftID)

	existing, err := b.jobs.FindByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return result, fmt.Errorf("find job %s: %w", key, err)
	}
	if existing != nil && existing.Status.Terminal() {
		result.Outcome = OutcomeAlreadyDone
		result.Status = existing.Status
		result.JobID = existing.ID
		return result, nil
	}

	if !settings.KindEnabled(kind) {
		result.Outcome = OutcomeDisabled
		if existing != nil {
			result.Status = existing.Status
			result.JobID = existing.ID
		}
		return result, nil
	}

	ks := settings.ForKind(kind)
	sendAt := schedule.ComputeSendAt(shift.CallTime, ks.SendTime, ks.DaysBefore, b.now(), kind.AppliesWeekendRule(), b.loc)

	desired := state.StatusScheduled
	var reason *string
	if rr := resolve.Recipient(kind, nil, shift); !rr.Success {
		desired = state.StatusBlocked
		r := string(rr.Reason)
		reason = &r
	}

	return b.sync(ctx, result, existing, store.UpsertJobParams{
		OrgID:       shift.OrgID,
		Kind:        kind,
		ShiftID:     &shift.ShiftID,
		SendAt:      sendAt,
		Status:      desired,
		LastError:   reason,
		MaxAttempts: b.maxAttempts,
	})
}

// suppress marks an existing non-terminal job skipped, or reports a skip
// without creating anything.
func (b *Builder) suppress(ctx context.Context, result KindResult, existing *models.ScheduledJob, reason string) (KindResult, error) {
	result.Status = state.StatusSkipped
	result.Reason = reason
	if existing == nil {
		result.Outcome = OutcomeSkipped
		return result, nil
	}
	result.JobID = existing.ID
	if existing.Status == state.StatusSkipped && existing.LastError != nil && *existing.LastError == reason {
		result.Outcome = OutcomeUpToDate
		return result, nil
	}
	if err := b.jobs.UpdateStatus(ctx, existing.ID, state.StatusSkipped, &reason); err != nil {
		return result, fmt.Errorf("skip job %d: %w", existing.ID, err)
	}
	b.logger.Info("job suppressed",
		zap.Int64("job_id", existing.ID),
		zap.String("reason", reason))
	result.Outcome = OutcomeUpdated
	return result, nil
}

// sync writes the desired row state, or reports up-to-date without a write.
func (b *Builder) sync(ctx context.Context, result KindResult, existing *models.ScheduledJob, p store.UpsertJobParams) (KindResult, error) {
	result.Status = p.Status
	if p.LastError != nil {
		result.Reason = *p.LastError
	}

	if existing != nil && jobMatches(existing, p) {
		result.Outcome = OutcomeUpToDate
		result.JobID = existing.ID
		return result, nil
	}

	job, err := b.jobs.UpsertJob(ctx, p)
	if err != nil {
		return result, fmt.Errorf("upsert %s job for org %d: %w", p.Kind, p.OrgID, err)
	}
	result.JobID = job.ID
	if existing == nil {
		result.Outcome = OutcomeCreated
	} else {
		result.Outcome = OutcomeUpdated
	}
	b.logger.Info("job synchronized",
		zap.Int64("job_id", job.ID),
		zap.String("kind", string(p.Kind)),
		zap.String("status", string(p.Status)),
		zap.Time("send_at", p.SendAt),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

func jobMatches(job *models.ScheduledJob, p store.UpsertJobParams) bool {
	if !job.SendAt.Equal(p.SendAt) || job.Status != p.Status {
		return false
	}
	if (job.LastError == nil) != (p.LastError == nil) {
		return false
	}
	if job.LastError != nil && *job.LastError != *p.LastError {
		return false
	}
	return true
}
