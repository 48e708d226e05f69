// Package client is the embedding API of the delivery engine: the host
// application calls it after every event or shift mutation and from its
// scheduling trigger.
package client

import (
	"context"
	"time"

	"crewcall/internal/builder"
	"crewcall/internal/models"
	"crewcall/internal/runner"
	"crewcall/internal/store"
)

type SchedulerClient struct {
	builder *builder.Builder
	runner  *runner.Runner
	jobs    store.JobStore
}

func NewSchedulerClient(b *builder.Builder, r *runner.Runner, jobs store.JobStore) *SchedulerClient {
	return &SchedulerClient{builder: b, runner: r, jobs: jobs}
}

// Rebuild synchronizes the event-level jobs (INIT, TECH_REMINDER) of one
// event with current domain state. Safe to call after every event update.
func (c *SchedulerClient) Rebuild(ctx context.Context, orgID, eventID int64) ([]builder.KindResult, error) {
	return c.builder.RebuildEvent(ctx, orgID, eventID)
}

// RebuildShifts synchronizes the SHIFT_REMINDER job of every shift of an
// event.
func (c *SchedulerClient) RebuildShifts(ctx context.Context, orgID, eventID int64) ([]builder.KindResult, error) {
	return c.builder.RebuildShifts(ctx, orgID, eventID)
}

// RunOnce processes all due jobs, optionally restricted to one organization.
func (c *SchedulerClient) RunOnce(ctx context.Context, orgID *int64) (*models.RunReport, error) {
	return c.runner.RunOnce(ctx, orgID)
}

// SendNow delivers one job immediately, bypassing scheduling rules.
func (c *SchedulerClient) SendNow(ctx context.Context, orgID, jobID int64) runner.SendNowResult {
	return c.runner.SendNow(ctx, orgID, jobID)
}

// ListJobs returns an organization's jobs with optional filters.
func (c *SchedulerClient) ListJobs(ctx context.Context, orgID int64, filter store.JobFilter) ([]models.ScheduledJob, error) {
	return c.jobs.ListJobs(ctx, orgID, filter)
}

// SetEnabled flips a single job's kill switch. A disabled job is never
// selected; re-enabling takes effect on the next pass.
func (c *SchedulerClient) SetEnabled(ctx context.Context, orgID, jobID int64, enabled bool) error {
	job, err := c.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OrgID != orgID {
		return store.ErrNotFound
	}
	return c.jobs.SetEnabled(ctx, jobID, enabled)
}

// Cleanup deletes terminal jobs older than the retention window.
func (c *SchedulerClient) Cleanup(ctx context.Context, orgID int64, age time.Duration) (int64, error) {
	return c.jobs.DeleteTerminalOlderThan(ctx, orgID, age)
}
