// Package postgres implements the store interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"crewcall/internal/models"
	"crewcall/internal/state"
	"crewcall/internal/store"
)

const jobColumns = `
	job_id, job_key, org_id, message_kind, event_id, shift_id,
	send_at, status, attempt_count, max_attempts, is_enabled,
	last_error, last_recipient_name, last_recipient_phone, sent_at,
	locked_by, locked_at, created_at, updated_at`

// JobStore is the PostgreSQL implementation of store.JobStore. Claiming uses
// FOR UPDATE SKIP LOCKED plus a persisted (locked_by, locked_at) pair, so the
// row-level claim survives the selecting transaction and concurrent runners
// simply see fewer rows.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) UpsertJob(ctx context.Context, p store.UpsertJobParams) (*models.ScheduledJob, error) {
	entityID, err := entityIDFor(p)
	if err != nil {
		return nil, err
	}
	jobKey := models.JobKey(p.OrgID, p.Kind, entityID)

	// The WHERE guard keeps terminal rows untouched: ON CONFLICT then updates
	// nothing and RETURNING yields no row, so we re-read the existing job.
	query := `
		INSERT INTO scheduled_jobs (
			job_key, org_id, message_kind, event_id, shift_id,
			send_at, status, last_error, max_attempts, is_enabled,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, now(), now())
		ON CONFLICT (job_key) DO UPDATE SET
			send_at    = EXCLUDED.send_at,
			status     = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = now()
		WHERE scheduled_jobs.status NOT IN ('sent', 'failed')
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query,
		jobKey, p.OrgID, p.Kind.String(), p.EventID, p.ShiftID,
		p.SendAt.UTC(), p.Status.String(), p.LastError, p.MaxAttempts,
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.FindByKey(ctx, jobKey)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert job %s: %w", jobKey, err)
	}
	return job, nil
}

func (s *JobStore) FindByKey(ctx context.Context, jobKey string) (*models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE job_key = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by key %s: %w", jobKey, err)
	}
	return job, nil
}

func (s *JobStore) FindByID(ctx context.Context, jobID int64) (*models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE job_id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %d: %w", jobID, err)
	}
	return job, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, jobID int64, status state.JobStatus, lastError *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, last_error = $3, updated_at = now()
		WHERE job_id = $1
	`, jobID, status.String(), lastError)
	if err != nil {
		return fmt.Errorf("update status of job %d: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) UpdateSendAt(ctx context.Context, jobID int64, sendAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET send_at = $2, updated_at = now()
		WHERE job_id = $1
	`, jobID, sendAt.UTC())
	if err != nil {
		return fmt.Errorf("update send_at of job %d: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) DueOrgIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT org_id
		FROM scheduled_jobs
		WHERE status IN ('scheduled', 'retrying')
		  AND is_enabled
		  AND send_at <= $1
		  AND attempt_count < max_attempts
		ORDER BY org_id
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due orgs: %w", err)
	}
	defer rows.Close()

	var orgs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

func (s *JobStore) ClaimDue(ctx context.Context, orgID *int64, now time.Time, limit int, claimedBy string, claimTTL time.Duration) ([]models.ScheduledJob, error) {
	// Selection and claim happen in one statement: SKIP LOCKED keeps two
	// concurrent claimers off the same rows while the statement runs, and the
	// persisted locked_at excludes rows already claimed by a live runner once
	// it commits. Claims older than claimTTL belong to crashed runners and
	// become claimable again.
	query := `
		WITH due AS (
			SELECT job_id
			FROM scheduled_jobs
			WHERE status IN ('scheduled', 'retrying')
			  AND is_enabled
			  AND send_at <= $1
			  AND attempt_count < max_attempts
			  AND ($2::bigint IS NULL OR org_id = $2)
			  AND (locked_at IS NULL OR locked_at < $1 - make_interval(secs => $3))
			ORDER BY send_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_jobs j
		SET locked_by = $5, locked_at = $1, updated_at = now()
		FROM due
		WHERE j.job_id = due.job_id
		RETURNING ` + prefixColumns("j")

	rows, err := s.db.QueryContext(ctx, query,
		now.UTC(), orgID, claimTTL.Seconds(), limit, claimedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) MarkSent(ctx context.Context, jobID int64, claimedBy string, sentAt time.Time, recipientName, recipientPhone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = 'sent',
		    sent_at = $3,
		    last_recipient_name = $4,
		    last_recipient_phone = $5,
		    last_error = NULL,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE job_id = $1 AND ($2 = '' OR locked_by = $2)
	`, jobID, claimedBy, sentAt.UTC(), recipientName, recipientPhone)
	if err != nil {
		return false, fmt.Errorf("mark job %d sent: %w", jobID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *JobStore) MarkSendFailure(ctx context.Context, jobID int64, claimedBy string, status state.JobStatus, nextSendAt *time.Time, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $3,
		    attempt_count = attempt_count + 1,
		    send_at = COALESCE($4, send_at),
		    last_error = $5,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE job_id = $1 AND ($2 = '' OR locked_by = $2)
	`, jobID, claimedBy, status.String(), nextSendAt, lastError)
	if err != nil {
		return false, fmt.Errorf("mark job %d failure: %w", jobID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *JobStore) Release(ctx context.Context, jobID int64, claimedBy string, status state.JobStatus, sendAt *time.Time, lastError *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $3,
		    send_at = COALESCE($4, send_at),
		    last_error = $5,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE job_id = $1 AND ($2 = '' OR locked_by = $2)
	`, jobID, claimedBy, status.String(), sendAt, lastError)
	if err != nil {
		return false, fmt.Errorf("release job %d: %w", jobID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *JobStore) ListJobs(ctx context.Context, orgID int64, filter store.JobFilter) ([]models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE org_id = $1`
	args := []interface{}{orgID}
	argIndex := 2

	if filter.Kind != nil {
		query += fmt.Sprintf(" AND message_kind = $%d", argIndex)
		args = append(args, filter.Kind.String())
		argIndex++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIndex)
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = st.String()
		}
		args = append(args, pq.Array(statuses))
		argIndex++
	}
	if filter.HideSent {
		query += " AND status <> 'sent'"
	}
	query += " ORDER BY send_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs for org %d: %w", orgID, err)
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) SetEnabled(ctx context.Context, jobID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET is_enabled = $2, updated_at = now()
		WHERE job_id = $1
	`, jobID, enabled)
	if err != nil {
		return fmt.Errorf("set job %d enabled=%t: %w", jobID, enabled, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) DeleteTerminalOlderThan(ctx context.Context, orgID int64, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_jobs
		WHERE org_id = $1
		  AND status IN ('sent', 'failed')
		  AND updated_at < now() - make_interval(secs => $2)
	`, orgID, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs for org %d: %w", orgID, err)
	}
	return res.RowsAffected()
}

func entityIDFor(p store.UpsertJobParams) (int64, error) {
	switch p.Kind.EntityType() {
	case "event":
		if p.EventID == nil {
			return 0, fmt.Errorf("%s job requires event_id", p.Kind)
		}
		return *p.EventID, nil
	case "shift":
		if p.ShiftID == nil {
			return 0, fmt.Errorf("%s job requires shift_id", p.Kind)
		}
		return *p.ShiftID, nil
	default:
		return 0, fmt.Errorf("unknown message kind %q", p.Kind)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var (
		job  models.ScheduledJob
		kind string
		st   string
	)
	err := row.Scan(
		&job.ID, &job.JobKey, &job.OrgID, &kind, &job.EventID, &job.ShiftID,
		&job.SendAt, &st, &job.AttemptCount, &job.MaxAttempts, &job.IsEnabled,
		&job.LastError, &job.LastRecipientName, &job.LastRecipientPhone, &job.SentAt,
		&job.LockedBy, &job.LockedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = models.MessageKind(kind)
	job.Status = state.JobStatus(st)
	return &job, nil
}

func prefixColumns(alias string) string {
	return `
	` + alias + `.job_id, ` + alias + `.job_key, ` + alias + `.org_id, ` + alias + `.message_kind, ` + alias + `.event_id, ` + alias + `.shift_id,
	` + alias + `.send_at, ` + alias + `.status, ` + alias + `.attempt_count, ` + alias + `.max_attempts, ` + alias + `.is_enabled,
	` + alias + `.last_error, ` + alias + `.last_recipient_name, ` + alias + `.last_recipient_phone, ` + alias + `.sent_at,
	` + alias + `.locked_by, ` + alias + `.locked_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}
