package audit

import "time"

// JobEventRow is one row of the job_events audit table — the historical
// record of a job lifecycle transition, replacing the teacher's
// per-zipcode weather tables with a single job-broker-shaped one.
type JobEventRow struct {
	ID         int64
	Handle     string
	Function   string
	Priority   string
	Kind       string
	OccurredAt time.Time
	RecordedAt time.Time
}
