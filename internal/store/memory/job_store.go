// Package memory provides in-memory implementations of the store interfaces
// for tests and local development. The job store reproduces the claim-and-skip
// semantics of the PostgreSQL store, including claim TTLs and the optimistic
// claimedBy check, so concurrency behavior can be exercised without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crewcall/internal/models"
	"crewcall/internal/state"
	"crewcall/internal/store"
)

type JobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*models.ScheduledJob
	byKey  map[string]int64
	idSeq  int64
	writes int
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[int64]*models.ScheduledJob),
		byKey: make(map[string]int64),
	}
}

// WriteCount returns how many mutating operations reached the store. Tests
// use it to prove a rebuild was a no-op.
func (s *JobStore) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *JobStore) UpsertJob(_ context.Context, p store.UpsertJobParams) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entityID int64
	switch p.Kind.EntityType() {
	case "shift":
		if p.ShiftID != nil {
			entityID = *p.ShiftID
		}
	default:
		if p.EventID != nil {
			entityID = *p.EventID
		}
	}
	key := models.JobKey(p.OrgID, p.Kind, entityID)

	if id, ok := s.byKey[key]; ok {
		job := s.jobs[id]
		if job.Status.Terminal() {
			return copyJob(job), nil
		}
		job.SendAt = p.SendAt.UTC()
		job.Status = p.Status
		job.LastError = copyStr(p.LastError)
		job.UpdatedAt = time.Now().UTC()
		s.writes++
		return copyJob(job), nil
	}

	s.idSeq++
	now := time.Now().UTC()
	job := &models.ScheduledJob{
		ID:           s.idSeq,
		JobKey:       key,
		OrgID:        p.OrgID,
		Kind:         p.Kind,
		EventID:      copyID(p.EventID),
		ShiftID:      copyID(p.ShiftID),
		SendAt:       p.SendAt.UTC(),
		Status:       p.Status,
		MaxAttempts:  p.MaxAttempts,
		IsEnabled:    true,
		LastError:    copyStr(p.LastError),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.jobs[job.ID] = job
	s.byKey[key] = job.ID
	s.writes++
	return copyJob(job), nil
}

func (s *JobStore) FindByKey(_ context.Context, jobKey string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[jobKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(s.jobs[id]), nil
}

func (s *JobStore) FindByID(_ context.Context, jobID int64) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *JobStore) UpdateStatus(_ context.Context, jobID int64, status state.JobStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.LastError = copyStr(lastError)
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return nil
}

func (s *JobStore) UpdateSendAt(_ context.Context, jobID int64, sendAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.SendAt = sendAt.UTC()
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return nil
}

func (s *JobStore) DueOrgIDs(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool)
	var orgs []int64
	for _, job := range s.jobs {
		if s.isDue(job, now, "", 0) && !seen[job.OrgID] {
			seen[job.OrgID] = true
			orgs = append(orgs, job.OrgID)
		}
	}
	return orgs, nil
}

func (s *JobStore) ClaimDue(_ context.Context, orgID *int64, now time.Time, limit int, claimedBy string, claimTTL time.Duration) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []models.ScheduledJob
	for _, job := range s.sortedJobs() {
		if len(claimed) >= limit {
			break
		}
		if orgID != nil && job.OrgID != *orgID {
			continue
		}
		if !s.isDue(job, now, claimedBy, claimTTL) {
			continue
		}
		by := claimedBy
		at := now.UTC()
		job.LockedBy = &by
		job.LockedAt = &at
		job.UpdatedAt = at
		claimed = append(claimed, *copyJob(job))
	}
	if len(claimed) > 0 {
		s.writes++
	}
	return claimed, nil
}

func (s *JobStore) MarkSent(_ context.Context, jobID int64, claimedBy string, sentAt time.Time, recipientName, recipientPhone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.claimedJob(jobID, claimedBy)
	if !ok {
		return false, nil
	}
	at := sentAt.UTC()
	job.Status = state.StatusSent
	job.SentAt = &at
	job.LastRecipientName = &recipientName
	job.LastRecipientPhone = &recipientPhone
	job.LastError = nil
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return true, nil
}

func (s *JobStore) MarkSendFailure(_ context.Context, jobID int64, claimedBy string, status state.JobStatus, nextSendAt *time.Time, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.claimedJob(jobID, claimedBy)
	if !ok {
		return false, nil
	}
	job.AttemptCount++
	job.Status = status
	if nextSendAt != nil {
		job.SendAt = nextSendAt.UTC()
	}
	job.LastError = &lastError
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return true, nil
}

func (s *JobStore) Release(_ context.Context, jobID int64, claimedBy string, status state.JobStatus, sendAt *time.Time, lastError *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.claimedJob(jobID, claimedBy)
	if !ok {
		return false, nil
	}
	job.Status = status
	if sendAt != nil {
		job.SendAt = sendAt.UTC()
	}
	job.LastError = copyStr(lastError)
	job.LockedBy = nil
	job.LockedAt = nil
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return true, nil
}

func (s *JobStore) ListJobs(_ context.Context, orgID int64, filter store.JobFilter) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ScheduledJob
	for _, job := range s.sortedJobs() {
		if job.OrgID != orgID {
			continue
		}
		if filter.Kind != nil && job.Kind != *filter.Kind {
			continue
		}
		if filter.HideSent && job.Status == state.StatusSent {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, job.Status) {
			continue
		}
		out = append(out, *copyJob(job))
	}
	return out, nil
}

func (s *JobStore) SetEnabled(_ context.Context, jobID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.IsEnabled = enabled
	job.UpdatedAt = time.Now().UTC()
	s.writes++
	return nil
}

func (s *JobStore) DeleteTerminalOlderThan(_ context.Context, orgID int64, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	var deleted int64
	for id, job := range s.jobs {
		if job.OrgID != orgID || !job.Status.Terminal() {
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			delete(s.byKey, job.JobKey)
			delete(s.jobs, id)
			deleted++
		}
	}
	if deleted > 0 {
		s.writes++
	}
	return deleted, nil
}

// isDue mirrors the SQL claim predicate. A claimTTL of zero treats any
// existing claim as live.
func (s *JobStore) isDue(job *models.ScheduledJob, now time.Time, claimedBy string, claimTTL time.Duration) bool {
	if job.Status != state.StatusScheduled && job.Status != state.StatusRetrying {
		return false
	}
	if !job.IsEnabled || job.SendAt.After(now) || job.AttemptCount >= job.MaxAttempts {
		return false
	}
	if job.LockedAt != nil {
		if claimTTL <= 0 {
			return false
		}
		if job.LockedAt.After(now.Add(-claimTTL)) {
			return false
		}
	}
	return true
}

func (s *JobStore) claimedJob(jobID int64, claimedBy string) (*models.ScheduledJob, bool) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	if claimedBy != "" && (job.LockedBy == nil || *job.LockedBy != claimedBy) {
		return nil, false
	}
	return job, true
}

func (s *JobStore) sortedJobs() []*models.ScheduledJob {
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SendAt.Equal(out[j].SendAt) {
			return out[i].SendAt.Before(out[j].SendAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func containsStatus(statuses []state.JobStatus, st state.JobStatus) bool {
	for _, candidate := range statuses {
		if candidate == st {
			return true
		}
	}
	return false
}

func copyJob(job *models.ScheduledJob) *models.ScheduledJob {
	c := *job
	c.EventID = copyID(job.EventID)
	c.ShiftID = copyID(job.ShiftID)
	c.LastError = copyStr(job.LastError)
	c.LastRecipientName = copyStr(job.LastRecipientName)
	c.LastRecipientPhone = copyStr(job.LastRecipientPhone)
	if job.SentAt != nil {
		t := *job.SentAt
		c.SentAt = &t
	}
	if job.LockedAt != nil {
		t := *job.LockedAt
		c.LockedAt = &t
	}
	c.LockedBy = copyStr(job.LockedBy)
	return &c
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
