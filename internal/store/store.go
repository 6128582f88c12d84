// Package store defines the persistence collaborator of the import
// pipeline and two implementations: a mutex-protected in-memory store
// and a MongoDB-backed store. The pipeline depends only on the
// interfaces; per-record atomicity is the store's responsibility.
package store

import (
	"context"
	"time"

	"statement-import-service/internal/models"
)

// Filter narrows transaction queries. Zero values mean no constraint.
type Filter struct {
	UserID    string
	AccountID string
	DateFrom  time.Time
	DateTo    time.Time
}

// UpsertOp selects the write shape of one upsert request.
type UpsertOp string

const (
	// OpInsert creates a new transaction and fails on the uniqueness
	// constraint.
	OpInsert UpsertOp = "insert"
	// OpUpdate overwrites the transaction identified by TargetID.
	OpUpdate UpsertOp = "update"
)

// UpsertRequest is one proposed write.
type UpsertRequest struct {
	Op        UpsertOp
	Record    *models.TransactionRecord
	UserID    string
	AccountID string
	// TargetID is the StorageID being overwritten; updates only.
	TargetID string
	// CategoryID and SubcategoryID carry the categorization verdict.
	CategoryID    string
	SubcategoryID string
	// ImportSessionID ties the write to the job that produced it.
	ImportSessionID string
}

// UpsertOutcome is the per-record result of one upsert request. A batch
// never fails as a whole on record-level problems.
type UpsertOutcome struct {
	RecordID  string
	StorageID string
	Err       error
}

// TransactionStore persists transactions with per-record outcomes.
type TransactionStore interface {
	Query(ctx context.Context, filter Filter) ([]*models.PersistedTransaction, error)
	Upsert(ctx context.Context, requests []UpsertRequest) ([]UpsertOutcome, error)
}

// JobStore persists background jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.BackgroundJob) error
	UpdateJob(ctx context.Context, job *models.BackgroundJob) error
	GetJob(ctx context.Context, jobID string) (*models.BackgroundJob, error)
	ListJobs(ctx context.Context, ownerID string) ([]*models.BackgroundJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	// DeleteTerminalJobsBefore removes terminal jobs whose completion
	// predates the cutoff. Returns how many were removed.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store bundles both persistence surfaces.
type Store interface {
	TransactionStore
	JobStore
}
