// Package jobs runs the import pipeline as background work. Callers get
// a job id immediately and observe progress through the hub or by
// polling; the orchestrator is the only component that mutates jobs.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"statement-import-service/internal/categorizer"
	"statement-import-service/internal/models"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/reconciler"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/google/uuid"
)

// Stage checkpoints on the job progress scale.
const (
	progressParseDone    = 10
	progressFetchDone    = 20
	progressClassifyDone = 80
	progressPersistDone  = 100
)

// Config holds orchestrator settings.
type Config struct {
	// SubBatchSize bounds one persistence write; cancellation is
	// observed between sub-batches.
	SubBatchSize int `json:"sub_batch_size"`

	// Retention is how long terminal jobs stay before CleanupExpired
	// removes them.
	Retention time.Duration `json:"retention"`

	// HistoryWindow bounds how far back existing transactions are
	// fetched for reconciliation. Zero fetches everything.
	HistoryWindow time.Duration `json:"history_window"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SubBatchSize:  50,
		Retention:     24 * time.Hour,
		HistoryWindow: 0,
	}
}

// Validate checks if the orchestrator configuration is valid.
func (c *Config) Validate() error {
	if c.SubBatchSize < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "jobs.sub_batch_size", c.SubBatchSize, nil)
	}
	if c.Retention <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "jobs.retention", c.Retention, nil)
	}
	return nil
}

// Orchestrator coordinates the parse, reconcile, categorize and persist
// stages of import jobs.
type Orchestrator struct {
	config      *Config
	store       store.Store
	parser      *parsers.StatementParser
	reconciler  *reconciler.Reconciler
	categorizer *categorizer.Categorizer
	hub         *Hub
	logger      logger.Logger

	mu      sync.Mutex
	active  map[string]string // (owner|account) -> job id
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(config *Config, st store.Store, parser *parsers.StatementParser, rec *reconciler.Reconciler, cat *categorizer.Categorizer) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if st == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "orchestrator requires a store", nil)
	}
	if parser == nil || rec == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "orchestrator requires parser and reconciler", nil)
	}

	return &Orchestrator{
		config:      config,
		store:       st,
		parser:      parser,
		reconciler:  rec,
		categorizer: cat,
		hub:         NewHub(),
		logger:      logger.GetGlobalLogger().WithComponent("orchestrator"),
		active:      make(map[string]string),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

func activeKey(ownerID, accountID string) string {
	return ownerID + "|" + accountID
}

// CreateImportJob registers a pending import job and starts it in the
// background. A second import for the same owner and account while one
// is still running is rejected with a conflict error.
func (o *Orchestrator) CreateImportJob(ctx context.Context, payload *models.ImportPayload, ownerID string) (string, error) {
	if payload == nil || len(payload.RawData) == 0 {
		return "", errors.ValidationError(errors.CodeMissingField, "payload", "", nil)
	}
	if !payload.Mode.IsValid() {
		return "", errors.ValidationError(errors.CodeInvalidData, "mode", string(payload.Mode), nil)
	}
	if ownerID == "" {
		return "", errors.ValidationError(errors.CodeMissingField, "owner_id", "", nil)
	}

	now := time.Now().UTC()
	job := &models.BackgroundJob{
		ID:        uuid.NewString(),
		Type:      models.JobTypeImport,
		Status:    models.JobStatusPending,
		Payload:   payload,
		OwnerID:   ownerID,
		AccountID: payload.AccountID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := activeKey(ownerID, payload.AccountID)

	o.mu.Lock()
	if runningID, busy := o.active[key]; busy {
		o.mu.Unlock()
		return "", errors.PersistenceError(errors.CodeJobConflict, runningID, nil).
			WithContext("owner_id", ownerID).
			WithContext("account_id", payload.AccountID)
	}
	o.active[key] = job.ID
	o.mu.Unlock()

	if err := o.store.CreateJob(ctx, job); err != nil {
		o.mu.Lock()
		delete(o.active, key)
		o.mu.Unlock()
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(key, job.ID)
		o.run(runCtx, job, payload, ownerID)
	}()

	return job.ID, nil
}

func (o *Orchestrator) release(key, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
		delete(o.cancels, jobID)
	}
	if o.active[key] == jobID {
		delete(o.active, key)
	}
}

// Cancel requests cooperative cancellation of a running job. The job
// reaches the cancelled state once the pipeline observes the request at
// the next stage or sub-batch boundary.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()

	if !ok {
		return errors.PersistenceError(errors.CodeJobNotFound, jobID, nil).
			WithSuggestion("the job may already be in a terminal state")
	}

	cancel()
	return nil
}

// GetJob returns the current job state synchronously; it never waits on
// the update channel.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.BackgroundJob, error) {
	return o.store.GetJob(ctx, jobID)
}

// Subscribe attaches to a job's update stream. For an unknown or
// already terminal job the returned channel is closed immediately, so
// ranging over it never blocks forever.
func (o *Orchestrator) Subscribe(jobID string) (<-chan models.JobUpdate, func()) {
	ch, cancel := o.hub.Subscribe(jobID)

	// The subscription exists before this check: a job that is still
	// running here is guaranteed to close the channel on its terminal
	// transition.
	job, err := o.store.GetJob(context.Background(), jobID)
	if err != nil || job.Status.IsTerminal() {
		cancel()
	}
	return ch, cancel
}

// Wait blocks until all running jobs finish; test and shutdown helper.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// CleanupExpired removes terminal jobs older than the retention window.
func (o *Orchestrator) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-o.config.Retention)
	return o.store.DeleteTerminalJobsBefore(ctx, cutoff)
}

// run executes the pipeline stages for one job.
func (o *Orchestrator) run(ctx context.Context, job *models.BackgroundJob, payload *models.ImportPayload, ownerID string) {
	log := o.logger.WithFields(logger.Fields{"job_id": job.ID, "owner_id": ownerID})
	tracker := logger.NewStageTracker("import", log, 0)

	if !o.transition(job, models.JobStatusProcessing, "") {
		return
	}

	result := &models.JobResult{}

	// Stage 1: parse, 0-10.
	parsed, err := o.parser.ParseWithProgress(payload.RawData, func(percent int) {
		o.updateProgress(job, percent*progressParseDone/100, tracker)
	})
	if err != nil {
		o.fail(ctx, job, result, err, tracker)
		return
	}
	for _, rowErr := range parsed.RowErrors {
		result.Failed++
		result.AddError(rowErr.Error())
	}
	o.updateProgress(job, progressParseDone, tracker)

	if o.observeCancellation(ctx, job, result, tracker) {
		return
	}

	// Stage 2: fetch comparison history, 10-20.
	filter := store.Filter{UserID: ownerID, AccountID: payload.AccountID}
	if o.config.HistoryWindow > 0 {
		filter.DateFrom = time.Now().UTC().Add(-o.config.HistoryWindow)
	}
	existing, err := o.store.Query(ctx, filter)
	if err != nil {
		o.fail(ctx, job, result, err, tracker)
		return
	}
	o.updateProgress(job, progressFetchDone, tracker)

	if o.observeCancellation(ctx, job, result, tracker) {
		return
	}

	// Stage 3: reconcile and categorize, 20-80.
	partition := o.reconciler.Reconcile(parsed.Records, existing)
	plan, err := o.reconciler.Plan(partition, payload.Mode)
	if err != nil {
		o.fail(ctx, job, result, err, tracker)
		return
	}
	o.updateProgress(job, 50, tracker)

	verdicts := map[string]*models.CategorizationResult{}
	if o.categorizer != nil {
		for _, v := range o.categorizer.Categorize(ctx, parsed.Records, partition.Groups) {
			verdicts[v.TransactionID] = v
		}
	}
	o.updateProgress(job, progressClassifyDone, tracker)

	if o.observeCancellation(ctx, job, result, tracker) {
		return
	}

	// Stage 4: persist in sub-batches, 80-100.
	if done := o.persist(ctx, job, plan, verdicts, ownerID, payload.AccountID, result, tracker); !done {
		return
	}

	o.updateProgress(job, progressPersistDone, tracker)
	o.complete(job, result, tracker)
}

// persist writes the plan in sub-batches, observing cancellation
// between them. Returns false if the job reached a terminal state on
// the way.
func (o *Orchestrator) persist(ctx context.Context, job *models.BackgroundJob, plan *reconciler.ImportPlan, verdicts map[string]*models.CategorizationResult, ownerID, accountID string, result *models.JobResult, tracker *logger.StageTracker) bool {
	var writable []reconciler.PlanEntry
	for _, entry := range plan.Entries {
		if entry.Action == reconciler.ActionSkip {
			result.Skipped++
			continue
		}
		writable = append(writable, entry)
	}

	total := len(writable)
	for start := 0; start < total; start += o.config.SubBatchSize {
		if o.observeCancellation(ctx, job, result, tracker) {
			return false
		}

		end := start + o.config.SubBatchSize
		if end > total {
			end = total
		}

		requests := make([]store.UpsertRequest, 0, end-start)
		for _, entry := range writable[start:end] {
			req := store.UpsertRequest{
				Record:          entry.Record,
				UserID:          ownerID,
				AccountID:       accountID,
				ImportSessionID: job.ID,
			}
			if entry.Action == reconciler.ActionUpdate {
				req.Op = store.OpUpdate
				req.TargetID = entry.Target.StorageID
			} else {
				req.Op = store.OpInsert
			}
			if verdict, ok := verdicts[entry.Record.ID]; ok && verdict.Source != models.SourceNone {
				req.CategoryID = verdict.CategoryID
				req.SubcategoryID = verdict.SubcategoryID
			}
			requests = append(requests, req)
		}

		outcomes, err := o.store.Upsert(ctx, requests)
		if err != nil {
			// The store itself is unreachable; that is fatal, unlike a
			// per-record failure.
			o.fail(ctx, job, result, err, tracker)
			return false
		}

		for i, outcome := range outcomes {
			switch {
			case outcome.Err != nil:
				result.Failed++
				result.AddError(outcome.Err.Error())
			case writable[start+i].Action == reconciler.ActionUpdate:
				result.Updated++
			default:
				result.Succeeded++
			}
		}

		percent := progressClassifyDone + (end*(progressPersistDone-progressClassifyDone))/total
		o.updateProgress(job, percent, tracker)
	}

	return true
}

// observeCancellation checks the cooperative cancellation flag and, if
// set, finalizes the job as cancelled with whatever was committed.
func (o *Orchestrator) observeCancellation(ctx context.Context, job *models.BackgroundJob, result *models.JobResult, tracker *logger.StageTracker) bool {
	if ctx.Err() == nil {
		return false
	}

	job.Result = result
	if o.transition(job, models.JobStatusCancelled, "cancelled by request") {
		tracker.CompleteWithError(errors.New(errors.CategoryInternal, errors.CodeCancelled, "import cancelled"))
	}
	return true
}

// fail finalizes the job as failed. A run context cancelled while a
// stage call was in flight is a cancellation observation, not a
// pipeline failure: stores that honor the context surface its error
// from in-flight operations, and the job must still end cancelled.
func (o *Orchestrator) fail(ctx context.Context, job *models.BackgroundJob, result *models.JobResult, err error, tracker *logger.StageTracker) {
	if o.observeCancellation(ctx, job, result, tracker) {
		return
	}

	job.Result = result
	if o.transition(job, models.JobStatusFailed, err.Error()) {
		tracker.CompleteWithError(err)
	}
}

func (o *Orchestrator) complete(job *models.BackgroundJob, result *models.JobResult, tracker *logger.StageTracker) {
	job.Result = result
	if o.transition(job, models.JobStatusCompleted, "") {
		tracker.Complete()
	}
}

// transition moves the job along the state machine, persists it and
// publishes the change. Illegal transitions are dropped.
func (o *Orchestrator) transition(job *models.BackgroundJob, next models.JobStatus, message string) bool {
	if !job.Status.CanTransition(next) {
		o.logger.WithFields(logger.Fields{
			"job_id": job.ID,
			"from":   job.Status,
			"to":     next,
		}).Warn("Illegal job transition dropped")
		return false
	}

	now := time.Now().UTC()
	job.Status = next
	job.UpdatedAt = now
	if next.IsTerminal() {
		job.CompletedAt = &now
		job.Progress = clampTerminalProgress(job)
	}
	if message != "" && next == models.JobStatusFailed {
		job.ErrorMessage = message
	}

	if err := o.store.UpdateJob(context.Background(), job); err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to persist job transition")
	}

	o.hub.Publish(models.JobUpdate{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
		At:       now,
	})

	if next.IsTerminal() {
		o.hub.CloseJob(job.ID)
	}
	return true
}

func clampTerminalProgress(job *models.BackgroundJob) int {
	if job.Status == models.JobStatusCompleted {
		return 100
	}
	return job.Progress
}

// updateProgress records monotonic progress and publishes it.
func (o *Orchestrator) updateProgress(job *models.BackgroundJob, percent int, tracker *logger.StageTracker) {
	if percent <= job.Progress {
		return
	}
	if percent > 100 {
		percent = 100
	}

	job.Progress = percent
	job.UpdatedAt = time.Now().UTC()
	tracker.Update(percent)

	if err := o.store.UpdateJob(context.Background(), job); err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to persist progress update")
	}

	o.hub.Publish(models.JobUpdate{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  fmt.Sprintf("%d%%", job.Progress),
		At:       job.UpdatedAt,
	})
}
