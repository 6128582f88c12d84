package models

import (
	"fmt"
	"testing"
	"time"
)

func TestJobStatusCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCancelled, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}

	for _, s := range []JobStatus{JobStatusPending, JobStatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestParseImportMode(t *testing.T) {
	for _, valid := range []string{"new-only", "update-existing", "import-all"} {
		mode, err := ParseImportMode(valid)
		if err != nil {
			t.Errorf("ParseImportMode(%q) failed: %v", valid, err)
		}
		if string(mode) != valid {
			t.Errorf("ParseImportMode(%q) = %s", valid, mode)
		}
	}

	if _, err := ParseImportMode("overwrite"); err == nil {
		t.Error("unknown mode must be rejected")
	}
}

func TestJobResultAddErrorBound(t *testing.T) {
	result := &JobResult{}
	for i := 0; i < MaxResultErrors+10; i++ {
		result.AddError(fmt.Sprintf("row %d: invalid amount", i))
	}

	if len(result.Errors) != MaxResultErrors {
		t.Errorf("errors = %d, want bound %d", len(result.Errors), MaxResultErrors)
	}
	if result.Errors[0] != "row 0: invalid amount" {
		t.Errorf("earliest errors must be kept, got %q", result.Errors[0])
	}
}

func TestBackgroundJobValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := &BackgroundJob{
		ID:        "job-1",
		Type:      JobTypeImport,
		Status:    JobStatusPending,
		OwnerID:   "user-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*BackgroundJob)
	}{
		{"empty id", func(j *BackgroundJob) { j.ID = "" }},
		{"bad type", func(j *BackgroundJob) { j.Type = "export" }},
		{"bad status", func(j *BackgroundJob) { j.Status = "paused" }},
		{"progress below range", func(j *BackgroundJob) { j.Progress = -1 }},
		{"progress above range", func(j *BackgroundJob) { j.Progress = 101 }},
		{"empty owner", func(j *BackgroundJob) { j.OwnerID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid.Clone()
			tt.mutate(job)
			if err := job.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBackgroundJobCloneIsDeep(t *testing.T) {
	completed := time.Now().UTC()
	job := &BackgroundJob{
		ID:          "job-1",
		Type:        JobTypeImport,
		Status:      JobStatusCompleted,
		OwnerID:     "user-1",
		Result:      &JobResult{Succeeded: 3, Errors: []string{"row 4: invalid date"}},
		CompletedAt: &completed,
	}

	clone := job.Clone()
	clone.Result.Succeeded = 99
	clone.Result.Errors[0] = "mutated"
	*clone.CompletedAt = completed.Add(time.Hour)

	if job.Result.Succeeded != 3 {
		t.Error("clone shares Result with original")
	}
	if job.Result.Errors[0] != "row 4: invalid date" {
		t.Error("clone shares Errors slice with original")
	}
	if !job.CompletedAt.Equal(completed) {
		t.Error("clone shares CompletedAt with original")
	}
}

func TestJobResultTotal(t *testing.T) {
	result := &JobResult{Succeeded: 2, Updated: 1, Skipped: 3, Failed: 4}
	if got := result.Total(); got != 10 {
		t.Errorf("total = %d, want 10", got)
	}
}
