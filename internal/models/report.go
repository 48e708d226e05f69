package models

// RunReport aggregates the outcome counters of a single scheduler pass.
// It is always returned complete, even when individual jobs failed.
type RunReport struct {
	DueFound   int   `json:"due_found"`
	Sent       int   `json:"sent"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	Blocked    int   `json:"blocked"`
	Postponed  int   `json:"postponed"`
	DurationMS int64 `json:"duration_ms"`
}

// Add folds another report's counters into this one.
func (r *RunReport) Add(other RunReport) {
	r.DueFound += other.DueFound
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Blocked += other.Blocked
	r.Postponed += other.Postponed
}
