package domain

import "time"

// DeletionOutcome is the result of deleting one run. A nil Err means the
// run was deleted.
type DeletionOutcome struct {
	ID  RunID
	Err error
}

// Deleted reports whether the run was removed
func (o DeletionOutcome) Deleted() bool {
	return o.Err == nil
}

// Reason returns the failure text, or "" for a successful deletion
func (o DeletionOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// BatchResult aggregates the outcomes of one deletion pass
type BatchResult struct {
	Deleted           int
	Failed            int
	SecondaryLimitHit bool
	Failures          []DeletionOutcome
}

// Total returns the number of deletions attempted
func (r BatchResult) Total() int {
	return r.Deleted + r.Failed
}

// Summary describes one complete purge run
type Summary struct {
	Session      string    `json:"session" yaml:"session"`
	Statuses     []string  `json:"statuses" yaml:"statuses"`
	Deleted      int       `json:"deleted" yaml:"deleted"`
	Failed       int       `json:"failed" yaml:"failed"`
	Batches      int       `json:"batches" yaml:"batches"`
	Hibernations int       `json:"hibernations" yaml:"hibernations"`
	Backoffs     int       `json:"backoffs" yaml:"backoffs"`
	DryRun       bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Pending      RunBatch  `json:"pending,omitempty" yaml:"pending,omitempty"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	Elapsed      Duration  `json:"elapsed" yaml:"elapsed"`
}

// Duration is a time.Duration written as "1m52s" in reports
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Add folds a batch result into the running totals
func (s *Summary) Add(r BatchResult) {
	s.Batches++
	s.Deleted += r.Deleted
	s.Failed += r.Failed
}
