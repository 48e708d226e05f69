package runner

import (
	"fmt"
	"time"

	"crewcall/internal/state"
)

// DefaultRetryDelay is the constant interval between send attempts.
const DefaultRetryDelay = 10 * time.Minute

// RetryDecision is the persisted consequence of one failed send attempt.
type RetryDecision struct {
	Status     state.JobStatus
	NextSendAt *time.Time
	LastError  string
}

// NextOnFailure decides how a failed attempt is recorded. attempt is the
// count before this failure; the store increments it when the decision is
// written. The delay is constant, no exponential growth.
func NextOnFailure(attempt, maxAttempts int, sendErr error, now time.Time, delay time.Duration) RetryDecision {
	detail := "send failed"
	if sendErr != nil {
		detail = sendErr.Error()
	}
	next := attempt + 1
	if next < maxAttempts {
		at := now.Add(delay).UTC()
		return RetryDecision{
			Status:     state.StatusRetrying,
			NextSendAt: &at,
			LastError:  fmt.Sprintf("attempt %d/%d: %s", next, maxAttempts, detail),
		}
	}
	return RetryDecision{
		Status:    state.StatusFailed,
		LastError: fmt.Sprintf("max attempts reached (%d/%d): %s", next, maxAttempts, detail),
	}
}
