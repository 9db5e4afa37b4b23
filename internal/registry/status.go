package registry

// JobStatus represents the lifecycle state of an ingest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending       JobStatus = "pending"
	JobStatusCrawling      JobStatus = "crawling"
	JobStatusComprehending JobStatus = "comprehending"
	JobStatusStoring       JobStatus = "storing"
	JobStatusComplete      JobStatus = "complete"
	JobStatusFailed        JobStatus = "failed"
)

var nextStatus = map[JobStatus]JobStatus{
	JobStatusPending:       JobStatusCrawling,
	JobStatusCrawling:      JobStatusComprehending,
	JobStatusComprehending: JobStatusStoring,
	JobStatusStoring:       JobStatusComplete,
}

// Terminal reports whether no further transition may occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Repeating the current non-terminal state is allowed so that retried writes
// stay idempotent.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed || next == s {
		return true
	}
	return nextStatus[s] == next
}
