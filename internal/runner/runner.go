// Package runner claims due delivery jobs and drives them through resolve,
// dedupe, postponement and send. Overlapping invocations are safe: selection
// is claim-and-skip, so a second runner sees fewer rows, never the same row.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"crewcall/internal/models"
	"crewcall/internal/resolve"
	"crewcall/internal/schedule"
	"crewcall/internal/state"
	"crewcall/internal/store"
)

type Config struct {
	Location    *time.Location
	Instance    string
	Workers     int64
	BatchSize   int
	ClaimTTL    time.Duration
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Instance == "" {
		c.Instance = uuid.NewString()
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
}

type Runner struct {
	jobs     store.JobStore
	events   store.EventSource
	shifts   store.ShiftSource
	settings store.SettingsSource
	dedupe   store.DedupeOracle
	sender   store.Sender

	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Runner)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(jobs store.JobStore, events store.EventSource, shifts store.ShiftSource, settings store.SettingsSource, dedupe store.DedupeOracle, sender store.Sender, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	cfg.applyDefaults()
	r := &Runner{
		jobs:     jobs,
		events:   events,
		shifts:   shifts,
		settings: settings,
		dedupe:   dedupe,
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce processes every due job, for one organization when orgID is set or
// for all organizations with due work otherwise. It always returns a complete
// counters object, even under partial failures.
func (r *Runner) RunOnce(ctx context.Context, orgID *int64) (*models.RunReport, error) {
	start := r.now()
	report := &models.RunReport{}

	var orgs []int64
	if orgID != nil {
		orgs = []int64{*orgID}
	} else {
		due, err := r.jobs.DueOrgIDs(ctx, start)
		if err != nil {
			return report, fmt.Errorf("list due orgs: %w", err)
		}
		orgs = due
	}

	for _, org := range orgs {
		orgReport, err := r.runOrg(ctx, org)
		if err != nil {
			r.logger.Error("org run failed", zap.Int64("org_id", org), zap.Error(err))
			continue
		}
		report.Add(orgReport)
	}

	report.DurationMS = r.now().Sub(start).Milliseconds()
	r.logger.Info("run complete",
		zap.Int("due_found", report.DueFound),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("blocked", report.Blocked),
		zap.Int("postponed", report.Postponed),
		zap.Int64("duration_ms", report.DurationMS))
	return report, nil
}

func (r *Runner) runOrg(ctx context.Context, orgID int64) (models.RunReport, error) {
	var report models.RunReport

	settings, err := r.settings.SettingsFor(ctx, orgID)
	if err != nil {
		return report, fmt.Errorf("load settings: %w", err)
	}
	if !settings.EnabledGlobal {
		r.logger.Info("scheduling disabled for org", zap.Int64("org_id", orgID))
		return report, nil
	}

	now := r.now()
	claimed, err := r.jobs.ClaimDue(ctx, &orgID, now, r.cfg.BatchSize, r.cfg.Instance, r.cfg.ClaimTTL)
	if err != nil {
		return report, fmt.Errorf("claim due jobs: %w", err)
	}
	report.DueFound = len(claimed)
	if len(claimed) == 0 {
		return report, nil
	}

	sem := semaphore.NewWeighted(r.cfg.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range claimed {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)

		go func(job models.ScheduledJob) {
			defer sem.Release(1)
			defer wg.Done()

			outcome := r.processJob(ctx, &job, settings)
			mu.Lock()
			switch outcome {
			case outcomeSent:
				report.Sent++
			case outcomeFailed:
				report.Failed++
			case outcomeSkipped:
				report.Skipped++
			case outcomeBlocked:
				report.Blocked++
			case outcomePostponed:
				report.Postponed++
			}
			mu.Unlock()
		}(claimed[i])
	}
	wg.Wait()
	return report, nil
}

type jobOutcome int

const (
	outcomeSent jobOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeBlocked
	outcomePostponed
)

// processJob runs one claimed job to a status write. A panic anywhere in the
// pipeline marks the job failed and never aborts the batch.
func (r *Runner) processJob(ctx context.Context, job *models.ScheduledJob, settings *models.SchedulerSettings) (outcome jobOutcome) {
	log := r.logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("job_key", job.JobKey),
		zap.String("kind", string(job.Kind)))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing job", zap.Any("panic", p))
			msg := fmt.Sprintf("panic: %v", p)
			if _, err := r.jobs.MarkSendFailure(ctx, job.ID, r.cfg.Instance, state.StatusFailed, nil, msg); err != nil {
				log.Error("record panic failure", zap.Error(err))
			}
			outcome = outcomeFailed
		}
	}()

	if !settings.KindEnabled(job.Kind) {
		reason := "kind disabled"
		r.release(ctx, log, job, state.StatusSkipped, nil, &reason)
		return outcomeSkipped
	}

	res, err := r.resolveRecipient(ctx, job)
	if err != nil {
		msg := err.Error()
		r.release(ctx, log, job, state.StatusBlocked, nil, &msg)
		return outcomeBlocked
	}
	if !res.Success {
		reason := string(res.Reason)
		log.Warn("recipient unresolved", zap.String("reason", reason))
		r.release(ctx, log, job, state.StatusBlocked, nil, &reason)
		return outcomeBlocked
	}

	already, err := r.dedupe.WasAlreadySent(ctx, job.OrgID, job.Kind, job.EventID, job.ShiftID, res.Phone)
	if err != nil {
		log.Error("dedupe check failed", zap.Error(err))
	}
	if already {
		reason := "already sent out-of-band"
		r.release(ctx, log, job, state.StatusSkipped, nil, &reason)
		return outcomeSkipped
	}

	now := r.now()
	if job.Kind.AppliesWeekendRule() && schedule.IsWeekend(now, r.cfg.Location) {
		ks := settings.ForKind(job.Kind)
		sunday := schedule.NextSundayAt(now, ks.SendTime, r.cfg.Location)
		r.release(ctx, log, job, state.StatusScheduled, &sunday, nil)
		log.Info("postponed over weekend", zap.Time("send_at", sunday))
		return outcomePostponed
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	providerID, sendErr := r.sender.Send(sendCtx, res.Phone, job.Kind, r.messageVars(job, res))
	cancel()

	if sendErr != nil {
		decision := NextOnFailure(job.AttemptCount, job.MaxAttempts, sendErr, r.now(), r.cfg.RetryDelay)
		if !state.IsValidTransition(job.Status, decision.Status) {
			log.Error("invalid status transition",
				zap.String("from", string(job.Status)),
				zap.String("to", string(decision.Status)))
		} else if _, err := r.jobs.MarkSendFailure(ctx, job.ID, r.cfg.Instance, decision.Status, decision.NextSendAt, decision.LastError); err != nil {
			log.Error("record send failure", zap.Error(err))
		}
		log.Warn("send failed",
			zap.String("status", string(decision.Status)),
			zap.Error(sendErr))
		return outcomeFailed
	}

	if state.IsValidTransition(job.Status, state.StatusSent) {
		ok, err := r.jobs.MarkSent(ctx, job.ID, r.cfg.Instance, r.now(), res.DisplayName, res.Phone)
		if err != nil {
			log.Error("record sent", zap.Error(err))
		} else if !ok {
			log.Warn("claim lost before finalize")
		}
	} else {
		log.Error("invalid status transition",
			zap.String("from", string(job.Status)),
			zap.String("to", string(state.StatusSent)))
	}
	log.Info("sent", zap.String("provider_id", providerID), zap.String("to", res.Phone))
	return outcomeSent
}

func (r *Runner) resolveRecipient(ctx context.Context, job *models.ScheduledJob) (resolve.Result, error) {
	switch job.Kind.EntityType() {
	case "shift":
		if job.ShiftID == nil {
			return resolve.Result{}, fmt.Errorf("job %d has no shift", job.ID)
		}
		shift, err := r.shifts.ShiftByID(ctx, job.OrgID, *job.ShiftID)
		if err != nil {
			return resolve.Result{}, fmt.Errorf("load shift %d: %w", *job.ShiftID, err)
		}
		return resolve.Recipient(job.Kind, nil, shift), nil
	default:
		if job.EventID == nil {
			return resolve.Result{}, fmt.Errorf("job %d has no event", job.ID)
		}
		event, err := r.events.EventByID(ctx, job.OrgID, *job.EventID)
		if err != nil {
			return resolve.Result{}, fmt.Errorf("load event %d: %w", *job.EventID, err)
		}
		return resolve.Recipient(job.Kind, event, nil), nil
	}
}

func (r *Runner) messageVars(job *models.ScheduledJob, res resolve.Result) map[string]string {
	return map[string]string{
		"recipient": res.DisplayName,
		"kind":      string(job.Kind),
		"send_at":   job.SendAt.Format(time.RFC3339),
	}
}

func (r *Runner) release(ctx context.Context, log *zap.Logger, job *models.ScheduledJob, status state.JobStatus, sendAt *time.Time, lastError *string) {
	if _, err := r.jobs.Release(ctx, job.ID, r.cfg.Instance, status, sendAt, lastError); err != nil {
		log.Error("release job", zap.String("status", string(status)), zap.Error(err))
	}
}
