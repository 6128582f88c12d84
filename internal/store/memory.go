package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-node use. It
// enforces the same (user, account, date, amount, description)
// uniqueness constraint as the MongoDB store so import-all exercises
// per-record failures identically.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*models.PersistedTransaction
	unique       map[string]string
	jobs         map[string]*models.BackgroundJob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*models.PersistedTransaction),
		unique:       make(map[string]string),
		jobs:         make(map[string]*models.BackgroundJob),
	}
}

func uniquenessKey(userID, accountID string, record *models.TransactionRecord) string {
	return strings.Join([]string{
		userID,
		accountID,
		record.Date.Format("2006-01-02"),
		record.SignedAmount().String(),
		models.NormalizeDescription(record.Description),
	}, "|")
}

// Query returns transactions matching the filter, ordered by date then
// storage id.
func (ms *MemoryStore) Query(_ context.Context, filter Filter) ([]*models.PersistedTransaction, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var results []*models.PersistedTransaction
	for _, tx := range ms.transactions {
		if filter.UserID != "" && tx.UserID != filter.UserID {
			continue
		}
		if filter.AccountID != "" && tx.AccountID != filter.AccountID {
			continue
		}
		if !filter.DateFrom.IsZero() && tx.Date.Before(filter.DateFrom) {
			continue
		}
		if !filter.DateTo.IsZero() && tx.Date.After(filter.DateTo) {
			continue
		}
		clone := *tx
		results = append(results, &clone)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Date.Equal(results[j].Date) {
			return results[i].Date.Before(results[j].Date)
		}
		return results[i].StorageID < results[j].StorageID
	})

	return results, nil
}

// Upsert applies each request independently and reports per-record
// outcomes. A failed record never affects its batch neighbors.
func (ms *MemoryStore) Upsert(_ context.Context, requests []UpsertRequest) ([]UpsertOutcome, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	outcomes := make([]UpsertOutcome, 0, len(requests))
	for _, req := range requests {
		outcomes = append(outcomes, ms.applyLocked(req))
	}
	return outcomes, nil
}

func (ms *MemoryStore) applyLocked(req UpsertRequest) UpsertOutcome {
	outcome := UpsertOutcome{RecordID: req.Record.ID}

	switch req.Op {
	case OpInsert:
		key := uniquenessKey(req.UserID, req.AccountID, req.Record)
		if _, exists := ms.unique[key]; exists {
			outcome.Err = errors.PersistenceError(errors.CodeUniquenessViolated, req.Record.ID, nil)
			return outcome
		}

		storageID := uuid.NewString()
		ms.transactions[storageID] = &models.PersistedTransaction{
			TransactionRecord: *req.Record.Clone(),
			StorageID:         storageID,
			UserID:            req.UserID,
			AccountID:         req.AccountID,
			CategoryID:        req.CategoryID,
			SubcategoryID:     req.SubcategoryID,
			ImportSessionID:   req.ImportSessionID,
		}
		ms.unique[key] = storageID
		outcome.StorageID = storageID

	case OpUpdate:
		existing, ok := ms.transactions[req.TargetID]
		if !ok {
			outcome.Err = errors.PersistenceError(errors.CodeInvalidData, req.TargetID, nil)
			return outcome
		}

		delete(ms.unique, uniquenessKey(existing.UserID, existing.AccountID, &existing.TransactionRecord))

		updated := &models.PersistedTransaction{
			TransactionRecord: *req.Record.Clone(),
			StorageID:         existing.StorageID,
			UserID:            existing.UserID,
			AccountID:         existing.AccountID,
			CategoryID:        req.CategoryID,
			SubcategoryID:     req.SubcategoryID,
			ImportSessionID:   req.ImportSessionID,
		}
		ms.transactions[existing.StorageID] = updated
		ms.unique[uniquenessKey(updated.UserID, updated.AccountID, &updated.TransactionRecord)] = existing.StorageID
		outcome.StorageID = existing.StorageID

	default:
		outcome.Err = errors.PersistenceError(errors.CodeInvalidData, string(req.Op), nil)
	}

	return outcome
}

// CreateJob stores a new job.
func (ms *MemoryStore) CreateJob(_ context.Context, job *models.BackgroundJob) error {
	if err := job.Validate(); err != nil {
		return errors.PersistenceError(errors.CodeInvalidData, job.ID, err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return errors.PersistenceError(errors.CodeUniquenessViolated, job.ID, nil)
	}

	ms.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateJob overwrites an existing job.
func (ms *MemoryStore) UpdateJob(_ context.Context, job *models.BackgroundJob) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; !exists {
		return errors.PersistenceError(errors.CodeJobNotFound, job.ID, nil)
	}

	ms.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a copy of the job with the given id.
func (ms *MemoryStore) GetJob(_ context.Context, jobID string) (*models.BackgroundJob, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, ok := ms.jobs[jobID]
	if !ok {
		return nil, errors.PersistenceError(errors.CodeJobNotFound, jobID, nil)
	}
	return job.Clone(), nil
}

// ListJobs returns the jobs for one owner, newest first.
func (ms *MemoryStore) ListJobs(_ context.Context, ownerID string) ([]*models.BackgroundJob, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var jobs []*models.BackgroundJob
	for _, job := range ms.jobs {
		if job.OwnerID == ownerID {
			jobs = append(jobs, job.Clone())
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})

	return jobs, nil
}

// DeleteJob removes a job.
func (ms *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[jobID]; !exists {
		return errors.PersistenceError(errors.CodeJobNotFound, jobID, nil)
	}

	delete(ms.jobs, jobID)
	return nil
}

// DeleteTerminalJobsBefore removes terminal jobs completed before the
// cutoff.
func (ms *MemoryStore) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for id, job := range ms.jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		delete(ms.jobs, id)
		removed++
	}
	return removed, nil
}

// CountTransactions reports how many transactions are stored; test
// helper.
func (ms *MemoryStore) CountTransactions() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.transactions)
}

var _ Store = (*MemoryStore)(nil)
