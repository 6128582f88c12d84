package models

import (
	"fmt"
	"time"
)

// JobType identifies the kind of background work a job performs.
type JobType string

const (
	// JobTypeImport runs the full statement import pipeline.
	JobTypeImport JobType = "import"
	// JobTypeCategorization re-runs categorization over stored records.
	JobTypeCategorization JobType = "categorization"
)

// IsValid checks if the job type is valid.
func (t JobType) IsValid() bool {
	return t == JobTypeImport || t == JobTypeCategorization
}

// JobStatus is the closed state enumeration of a background job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValid checks if the job status is valid.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal state
// machine transition. Terminal states admit nothing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// ImportMode selects how reconciliation classifications translate into
// persistence operations.
type ImportMode string

const (
	// ImportModeNewOnly imports unmatched records and silently drops
	// duplicates.
	ImportModeNewOnly ImportMode = "new-only"
	// ImportModeUpdateExisting imports unmatched records and overwrites
	// matched existing records with incoming values.
	ImportModeUpdateExisting ImportMode = "update-existing"
	// ImportModeImportAll attempts to import everything; duplicates that
	// violate storage uniqueness fail per-record, never the batch.
	ImportModeImportAll ImportMode = "import-all"
)

// IsValid checks if the import mode is valid.
func (m ImportMode) IsValid() bool {
	switch m {
	case ImportModeNewOnly, ImportModeUpdateExisting, ImportModeImportAll:
		return true
	default:
		return false
	}
}

// ParseImportMode parses an import mode from its string form.
func ParseImportMode(s string) (ImportMode, error) {
	mode := ImportMode(s)
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid import mode '%s': must be one of new-only, update-existing, import-all", s)
	}
	return mode, nil
}

// MaxResultErrors bounds the per-row error list carried by a JobResult.
const MaxResultErrors = 20

// JobResult summarizes what an import job actually committed. Partial
// successes recorded before a failure or cancellation stay here; they are
// never rolled back.
type JobResult struct {
	Succeeded int      `json:"succeeded"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// AddError appends a per-row error string, dropping entries beyond the
// MaxResultErrors bound.
func (r *JobResult) AddError(msg string) {
	if len(r.Errors) < MaxResultErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Total returns the number of records accounted for by the result.
func (r *JobResult) Total() int {
	return r.Succeeded + r.Updated + r.Skipped + r.Failed
}

// ImportPayload is the payload of an import job.
type ImportPayload struct {
	FileName  string     `json:"fileName"`
	RawData   []byte     `json:"-"`
	AccountID string     `json:"accountId"`
	Mode      ImportMode `json:"mode"`
}

// BackgroundJob tracks one asynchronous pipeline run. Only the job
// orchestrator mutates it; once terminal it is immutable and retained for
// a bounded window before cleanup.
type BackgroundJob struct {
	ID           string     `json:"id"`
	Type         JobType    `json:"type"`
	Status       JobStatus  `json:"status"`
	Payload      any        `json:"payload,omitempty"`
	Progress     int        `json:"progress"`
	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	OwnerID      string     `json:"ownerId"`
	AccountID    string     `json:"accountId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Validate performs basic validation on the BackgroundJob.
func (j *BackgroundJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}

	if !j.Type.IsValid() {
		return fmt.Errorf("invalid job type: %s", j.Type)
	}

	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}

	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job progress must be within [0,100], got %d", j.Progress)
	}

	if j.OwnerID == "" {
		return fmt.Errorf("job owner id cannot be empty")
	}

	return nil
}

// Clone returns a copy of the job safe to hand to observers.
func (j *BackgroundJob) Clone() *BackgroundJob {
	if j == nil {
		return nil
	}

	clone := *j
	if j.Result != nil {
		result := *j.Result
		result.Errors = append([]string(nil), j.Result.Errors...)
		clone.Result = &result
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// JobUpdate is one observable state or progress change, delivered to
// subscribers in the order it was produced.
type JobUpdate struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}
