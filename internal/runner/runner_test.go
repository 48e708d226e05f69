package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crewcall/internal/models"
	"crewcall/internal/state"
	"crewcall/internal/store"
	"crewcall/internal/store/memory"
)

const testOrg int64 = 1

var jerusalem = mustLoadLocation("Asia/Jerusalem")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fixture struct {
	jobs   *memory.JobStore
	dir    *memory.Directory
	dedupe *memory.DedupeLog
	sender *memory.SenderStub
	clock  time.Time
	runner *Runner
}

func newFixture(t *testing.T, now time.Time, opts ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		jobs:   memory.NewJobStore(),
		dir:    memory.NewDirectory(),
		dedupe: memory.NewDedupeLog(),
		sender: &memory.SenderStub{},
		clock:  now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.runner = New(f.jobs, f.dir, f.dir, f.dir, f.dedupe, f.sender,
		Config{Location: jerusalem, Instance: "test-runner", RetryDelay: 10 * time.Minute},
		zap.NewNop(),
		WithClock(func() time.Time { return f.clock }))
	return f
}

func (f *fixture) seedEvent() models.EventSnapshot {
	ev := models.EventSnapshot{
		EventID:    10,
		OrgID:      testOrg,
		Name:       "Summer Festival",
		AnchorDate: time.Date(2025, 7, 18, 0, 0, 0, 0, jerusalem),
		TechnicalContact: &models.Contact{
			ID: 1, Name: "Dana", Phone: "0501234567",
		},
	}
	f.dir.PutEvent(ev)
	return ev
}

func (f *fixture) seedJob(t *testing.T, kind models.MessageKind, entityID int64, sendAt time.Time) *models.ScheduledJob {
	t.Helper()
	p := store.UpsertJobParams{
		OrgID:       testOrg,
		Kind:        kind,
		SendAt:      sendAt,
		Status:      state.StatusScheduled,
		MaxAttempts: 3,
	}
	if kind.EntityType() == "shift" {
		p.ShiftID = &entityID
	} else {
		p.EventID = &entityID
	}
	job, err := f.jobs.UpsertJob(context.Background(), p)
	require.NoError(t, err)
	return job
}

func TestRunOnceSendsDueJob(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC) // Sunday in Jerusalem
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DueFound)
	assert.Equal(t, 1, report.Sent)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.LastRecipientPhone)
	assert.Equal(t, "+972501234567", *got.LastRecipientPhone)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+972501234567", sent[0].Phone)
	assert.Equal(t, models.KindInit, sent[0].Kind)
}

func TestRunOnceSkipsDisabledKind(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	settings := *models.DefaultSettings(testOrg)
	settings.Init.Enabled = false
	f.dir.PutSettings(settings)
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Sent)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSkipped, got.Status)
}

func TestRunOnceSkipsGloballyDisabledOrg(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	settings := *models.DefaultSettings(testOrg)
	settings.EnabledGlobal = false
	f.dir.PutSettings(settings)
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.DueFound)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusScheduled, got.Status, "job is left untouched")
}

func TestRunOnceBlocksUnresolvedRecipient(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ev := f.seedEvent()
	ev.TechnicalContact = nil
	f.dir.PutEvent(ev)
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocked)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusBlocked, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "NO_VALID_PHONE", *got.LastError)
	assert.Empty(t, f.sender.Sent())
}

func TestRunOnceSkipsDuplicates(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))
	f.dedupe.Record(testOrg, models.KindInit, job.EventID, nil, "+972501234567")

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.sender.Sent())

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSkipped, got.Status)
}

func TestRunOncePostponesInitOverWeekend(t *testing.T) {
	// Friday morning in Jerusalem.
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, jerusalem)
	f := newFixture(t, now)
	f.seedEvent()
	initJob := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))
	techJob := f.seedJob(t, models.KindTechReminder, 10, now.Add(-time.Minute))

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Postponed)
	assert.Equal(t, 1, report.Sent)

	got, err := f.jobs.FindByID(context.Background(), initJob.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusScheduled, got.Status)
	want := time.Date(2025, 6, 22, 10, 0, 0, 0, jerusalem).UTC()
	assert.Equal(t, want, got.SendAt)

	// The weekend rule never applies to TECH_REMINDER.
	gotTech, err := f.jobs.FindByID(context.Background(), techJob.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSent, gotTech.Status)
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))
	f.sender.Err = errors.New("provider unavailable")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		report, err := f.runner.RunOnce(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed, "pass %d", i+1)
		f.clock = f.clock.Add(11 * time.Minute)
	}

	got, err := f.jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "max attempts reached")

	// A failed job is never selected again.
	report, err := f.runner.RunOnce(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, report.DueFound)
}

func TestRetryRecordsAttemptRatio(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now.Add(-time.Minute))
	f.sender.Err = errors.New("provider unavailable")

	_, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, now.Add(10*time.Minute), got.SendAt)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "attempt 1/3")
	assert.Contains(t, *got.LastError, "provider unavailable")
}

type panickySender struct {
	inner *memory.SenderStub
	trap  string
}

func (s *panickySender) Send(ctx context.Context, phone string, kind models.MessageKind, vars map[string]string) (string, error) {
	if phone == s.trap {
		panic("sender blew up")
	}
	return s.inner.Send(ctx, phone, kind, vars)
}

func TestPanicInOneJobDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ev := f.seedEvent()
	other := ev
	other.EventID = 11
	other.TechnicalContact = &models.Contact{ID: 3, Name: "Avi", Phone: "0539998877"}
	f.dir.PutEvent(other)

	trapJob := f.seedJob(t, models.KindInit, 10, now.Add(-2*time.Minute))
	okJob := f.seedJob(t, models.KindInit, 11, now.Add(-time.Minute))

	stub := &memory.SenderStub{}
	f.runner.sender = &panickySender{inner: stub, trap: "+972501234567"}

	report, err := f.runner.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DueFound)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)

	got, err := f.jobs.FindByID(context.Background(), trapJob.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "panic")

	gotOK, err := f.jobs.FindByID(context.Background(), okJob.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSent, gotOK.Status)
}

func TestConcurrentRunOnceProcessesEachJobOnce(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ev := f.seedEvent()
	const jobCount = 20
	for i := int64(0); i < jobCount; i++ {
		e := ev
		e.EventID = 100 + i
		f.dir.PutEvent(e)
		f.seedJob(t, models.KindInit, e.EventID, now.Add(-time.Minute))
	}

	second := New(f.jobs, f.dir, f.dir, f.dir, f.dedupe, f.sender,
		Config{Location: jerusalem, Instance: "other-runner"},
		zap.NewNop(),
		WithClock(func() time.Time { return f.clock }))

	var wg sync.WaitGroup
	reports := make([]*models.RunReport, 2)
	for i, r := range []*Runner{f.runner, second} {
		wg.Add(1)
		go func(i int, r *Runner) {
			defer wg.Done()
			report, err := r.RunOnce(context.Background(), nil)
			assert.NoError(t, err)
			reports[i] = report
		}(i, r)
	}
	wg.Wait()

	assert.Equal(t, jobCount, reports[0].Sent+reports[1].Sent)
	assert.Len(t, f.sender.Sent(), jobCount)
}

func TestSendNowOnBlockedJobReportsMissingRecipient(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ev := f.seedEvent()
	ev.TechnicalContact = nil
	f.dir.PutEvent(ev)
	job := f.seedJob(t, models.KindInit, 10, now.Add(time.Hour))
	require.NoError(t, f.jobs.UpdateStatus(context.Background(), job.ID, state.StatusBlocked, nil))

	result := f.runner.SendNow(context.Background(), testOrg, job.ID)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonMissingRecipient, result.ReasonCode)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusBlocked, got.Status)
	assert.Empty(t, f.sender.Sent())
}

func TestSendNowBypassesDisabledKindAndWeekend(t *testing.T) {
	// Saturday in Jerusalem, INIT disabled: a scheduled run would skip or
	// postpone, a manual send goes out anyway.
	now := time.Date(2025, 6, 21, 9, 0, 0, 0, jerusalem)
	f := newFixture(t, now)
	f.seedEvent()
	settings := *models.DefaultSettings(testOrg)
	settings.Init.Enabled = false
	f.dir.PutSettings(settings)
	job := f.seedJob(t, models.KindInit, 10, now.Add(time.Hour))

	result := f.runner.SendNow(context.Background(), testOrg, job.ID)
	assert.True(t, result.Success)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSent, got.Status)
}

func TestSendNowOnTerminalJob(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now)
	require.NoError(t, f.jobs.UpdateStatus(context.Background(), job.ID, state.StatusSent, nil))

	result := f.runner.SendNow(context.Background(), testOrg, job.ID)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonAlreadySent, result.ReasonCode)
}

func TestSendNowFailureFeedsRetry(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now.Add(time.Hour))
	f.sender.Err = errors.New("provider unavailable")

	result := f.runner.SendNow(context.Background(), testOrg, job.ID)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonSendFailed, result.ReasonCode)

	got, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestSendNowRejectsForeignOrg(t *testing.T) {
	now := time.Date(2025, 6, 22, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.seedEvent()
	job := f.seedJob(t, models.KindInit, 10, now)

	result := f.runner.SendNow(context.Background(), testOrg+1, job.ID)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonException, result.ReasonCode)
	assert.Empty(t, f.sender.Sent())
}
