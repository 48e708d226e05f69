package state

// JobStatus is the lifecycle status of a scheduled message job.
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusBlocked   JobStatus = "blocked"
	StatusRetrying  JobStatus = "retrying"
	StatusSent      JobStatus = "sent"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
	StatusPaused    JobStatus = "paused"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status can never change again.
// Skipped and blocked jobs are revisited on rebuild; sent and failed are not.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

var AllStatuses = []JobStatus{
	StatusScheduled,
	StatusBlocked,
	StatusRetrying,
	StatusSent,
	StatusFailed,
	StatusSkipped,
	StatusPaused,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusScheduled, To: StatusSent},
	{From: StatusScheduled, To: StatusRetrying},
	{From: StatusScheduled, To: StatusFailed},
	{From: StatusScheduled, To: StatusBlocked},
	{From: StatusScheduled, To: StatusSkipped},
	{From: StatusScheduled, To: StatusPaused},
	{From: StatusPaused, To: StatusScheduled},
	{From: StatusBlocked, To: StatusScheduled},
	{From: StatusBlocked, To: StatusSkipped},
	{From: StatusBlocked, To: StatusSent},
	{From: StatusBlocked, To: StatusRetrying},
	{From: StatusBlocked, To: StatusFailed},
	{From: StatusSkipped, To: StatusScheduled},
	{From: StatusSkipped, To: StatusBlocked},
	{From: StatusRetrying, To: StatusSent},
	{From: StatusRetrying, To: StatusRetrying},
	{From: StatusRetrying, To: StatusFailed},
	{From: StatusRetrying, To: StatusBlocked},
	{From: StatusRetrying, To: StatusSkipped},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
