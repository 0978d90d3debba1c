package constants

// ConversionStatus is the lifecycle of a note's markdown conversion.
// Clients poll this value; store these exact strings in the notes table.
type ConversionStatus string

const (
	StatusPending    ConversionStatus = "pending"    // artifact stored, waiting for a worker
	StatusProcessing ConversionStatus = "processing" // claimed by exactly one worker
	StatusCompleted  ConversionStatus = "completed"  // markdown written, path recorded
	StatusFailed     ConversionStatus = "failed"     // terminal for this attempt
)

// AllStatuses lists the statuses in lifecycle order.
var AllStatuses = []ConversionStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// IsTerminal reports whether no worker will touch the note again without a reprocess.
func (s ConversionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus returns the status for s, or false when s is not a known value.
func ParseStatus(s string) (ConversionStatus, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// JobStatus is the canonical status for rows in conversion_jobs.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)
