package jobs

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"statement-import-service/internal/categorizer"
	"statement-import-service/internal/models"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/reconciler"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
)

// hookStore wraps the in-memory store with test hooks around Query and
// Upsert. Like the MongoDB backend it honors context cancellation: a
// write whose context is already cancelled aborts with the context
// error instead of committing.
type hookStore struct {
	*store.MemoryStore
	beforeQuery  func()
	beforeUpsert func(batch int)
	afterUpsert  func(batch int)
	upsertCalls  int
}

func (hs *hookStore) Query(ctx context.Context, filter store.Filter) ([]*models.PersistedTransaction, error) {
	if hs.beforeQuery != nil {
		hs.beforeQuery()
	}
	return hs.MemoryStore.Query(ctx, filter)
}

func (hs *hookStore) Upsert(ctx context.Context, requests []store.UpsertRequest) ([]store.UpsertOutcome, error) {
	hs.upsertCalls++
	if hs.beforeUpsert != nil {
		hs.beforeUpsert(hs.upsertCalls)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes, err := hs.MemoryStore.Upsert(ctx, requests)
	if hs.afterUpsert != nil {
		hs.afterUpsert(hs.upsertCalls)
	}
	return outcomes, err
}

func statementOf(rows int) []byte {
	var b strings.Builder
	b.WriteString("Data,Valor,Identificador,Descrição\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%02d/01/2024,\"-%d,50\",TX%03d,COMPRA NUMERO %d\n", i%27+1, 10+i, i, i)
	}
	return []byte(b.String())
}

func newTestOrchestrator(t *testing.T, st store.Store, config *Config) *Orchestrator {
	t.Helper()

	parser, err := parsers.NewStatementParser(nil)
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	rec, err := reconciler.NewReconciler(nil)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	cat, err := categorizer.NewCategorizer(nil, nil, nil)
	if err != nil {
		t.Fatalf("categorizer: %v", err)
	}

	o, err := NewOrchestrator(config, st, parser, rec, cat)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

func importPayload(rows int) *models.ImportPayload {
	return &models.ImportPayload{
		FileName:  "statement.csv",
		RawData:   statementOf(rows),
		AccountID: "acc-1",
		Mode:      models.ImportModeNewOnly,
	}
}

func TestImportJobCompletes(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, nil)

	jobID, err := o.CreateImportJob(context.Background(), importPayload(5), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	o.Wait()

	job, err := o.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", job.Status, job.ErrorMessage)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.Result == nil || job.Result.Succeeded != 5 {
		t.Errorf("expected 5 succeeded, got %+v", job.Result)
	}
	if job.CompletedAt == nil {
		t.Error("terminal job must carry CompletedAt")
	}
	if ms.CountTransactions() != 5 {
		t.Errorf("expected 5 stored transactions, got %d", ms.CountTransactions())
	}
}

func TestImportTwiceSkipsDuplicates(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, nil)

	first, err := o.CreateImportJob(context.Background(), importPayload(4), "user-1")
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	o.Wait()

	second, err := o.CreateImportJob(context.Background(), importPayload(4), "user-1")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	o.Wait()

	firstJob, _ := o.GetJob(context.Background(), first)
	if firstJob.Result.Succeeded != 4 {
		t.Errorf("first import: expected 4 succeeded, got %+v", firstJob.Result)
	}

	secondJob, _ := o.GetJob(context.Background(), second)
	if secondJob.Status != models.JobStatusCompleted {
		t.Fatalf("second import: expected completed, got %s", secondJob.Status)
	}
	if secondJob.Result.Succeeded != 0 || secondJob.Result.Skipped != 4 {
		t.Errorf("second import: expected 0 succeeded / 4 skipped, got %+v", secondJob.Result)
	}
	if ms.CountTransactions() != 4 {
		t.Errorf("expected 4 stored transactions after re-import, got %d", ms.CountTransactions())
	}
}

func TestConcurrentImportSameAccountRejected(t *testing.T) {
	gate := make(chan struct{})
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	hs.beforeQuery = func() { <-gate }

	o := newTestOrchestrator(t, hs, nil)

	first, err := o.CreateImportJob(context.Background(), importPayload(3), "user-1")
	if err != nil {
		t.Fatalf("first import: %v", err)
	}

	_, err = o.CreateImportJob(context.Background(), importPayload(3), "user-1")
	if err == nil {
		t.Fatal("expected conflict for concurrent import on the same account")
	}
	if !errors.HasCode(err, errors.CodeJobConflict) {
		t.Errorf("expected CodeJobConflict, got %v", err)
	}

	// A different account is not serialized against the first.
	otherPayload := importPayload(3)
	otherPayload.AccountID = "acc-2"
	if _, err := o.CreateImportJob(context.Background(), otherPayload, "user-1"); err != nil {
		t.Errorf("import on other account rejected: %v", err)
	}

	close(gate)
	o.Wait()

	// Once the first job is terminal the slot frees up.
	if _, err := o.CreateImportJob(context.Background(), importPayload(3), "user-1"); err != nil {
		t.Errorf("import after completion rejected: %v", err)
	}
	o.Wait()

	firstJob, _ := o.GetJob(context.Background(), first)
	if !firstJob.Status.IsTerminal() {
		t.Errorf("first job not terminal: %s", firstJob.Status)
	}
}

func TestCancelMidPersistence(t *testing.T) {
	// 10 records at sub-batch size 2 gives 5 persistence sub-batches;
	// cancelling during the second one must leave exactly the first two
	// committed.
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	o := newTestOrchestrator(t, hs, &Config{SubBatchSize: 2, Retention: time.Hour})

	jobIDCh := make(chan string, 1)
	hs.afterUpsert = func(batch int) {
		if batch == 2 {
			if err := o.Cancel(<-jobIDCh); err != nil {
				t.Errorf("Cancel failed: %v", err)
			}
		}
	}

	jobID, err := o.CreateImportJob(context.Background(), importPayload(10), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	jobIDCh <- jobID
	o.Wait()

	job, err := o.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.Result == nil || job.Result.Succeeded != 4 {
		t.Errorf("expected 4 committed records from 2 sub-batches, got %+v", job.Result)
	}
	if hs.CountTransactions() != 4 {
		t.Errorf("expected 4 stored transactions, got %d", hs.CountTransactions())
	}
	if job.Progress >= 100 {
		t.Errorf("cancelled job must not reach 100%%, got %d", job.Progress)
	}
}

func TestCancelDuringStoreWriteEndsCancelled(t *testing.T) {
	// A store that honors context cancellation surfaces the context
	// error from an in-flight write. The job must still end cancelled
	// with the previously committed sub-batches, not failed.
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	o := newTestOrchestrator(t, hs, &Config{SubBatchSize: 2, Retention: time.Hour})

	jobIDCh := make(chan string, 1)
	hs.beforeUpsert = func(batch int) {
		if batch == 2 {
			if err := o.Cancel(<-jobIDCh); err != nil {
				t.Errorf("Cancel failed: %v", err)
			}
		}
	}

	jobID, err := o.CreateImportJob(context.Background(), importPayload(6), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	jobIDCh <- jobID
	o.Wait()

	job, err := o.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s (error: %q)", job.Status, job.ErrorMessage)
	}
	if job.ErrorMessage != "" {
		t.Errorf("cancelled job must not carry a failure message, got %q", job.ErrorMessage)
	}
	if job.Result == nil || job.Result.Succeeded != 2 {
		t.Errorf("expected 2 committed records from the first sub-batch, got %+v", job.Result)
	}
	if hs.CountTransactions() != 2 {
		t.Errorf("expected 2 stored transactions, got %d", hs.CountTransactions())
	}
}

func TestSubscribeTerminalJobClosesImmediately(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, nil)

	jobID, err := o.CreateImportJob(context.Background(), importPayload(2), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	o.Wait()

	updates, cancel := o.Subscribe(jobID)
	defer cancel()
	if _, open := <-updates; open {
		t.Error("subscription to a terminal job must yield a closed channel")
	}

	unknown, cancelUnknown := o.Subscribe("no-such-job")
	defer cancelUnknown()
	if _, open := <-unknown; open {
		t.Error("subscription to an unknown job must yield a closed channel")
	}
}

func TestProgressMonotonicAndTerminalUpdateLast(t *testing.T) {
	// The fetch stage is gated so the subscription is in place before
	// the job can reach a terminal state.
	gate := make(chan struct{})
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	hs.beforeQuery = func() { <-gate }

	o := newTestOrchestrator(t, hs, nil)

	jobID, err := o.CreateImportJob(context.Background(), importPayload(6), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}

	updates, cancel := o.Subscribe(jobID)
	defer cancel()

	close(gate)
	o.Wait()

	var collected []models.JobUpdate
	for update := range updates {
		collected = append(collected, update)
	}

	if len(collected) == 0 {
		t.Fatal("expected at least one update")
	}
	for i := 1; i < len(collected); i++ {
		if collected[i].Progress < collected[i-1].Progress {
			t.Fatalf("progress regressed: %d after %d", collected[i].Progress, collected[i-1].Progress)
		}
	}
	if last := collected[len(collected)-1]; !last.Status.IsTerminal() {
		t.Errorf("last observed update not terminal: %s", last.Status)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	o := newTestOrchestrator(t, store.NewMemoryStore(), nil)

	if err := o.Cancel("no-such-job"); !errors.HasCode(err, errors.CodeJobNotFound) {
		t.Errorf("expected CodeJobNotFound, got %v", err)
	}
}

func TestCancelAfterCompletionHasNoEffect(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, nil)

	jobID, err := o.CreateImportJob(context.Background(), importPayload(2), "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	o.Wait()

	if err := o.Cancel(jobID); err == nil {
		t.Error("cancel of a terminal job must fail")
	}

	job, _ := o.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusCompleted {
		t.Errorf("terminal state mutated to %s", job.Status)
	}
}

func TestCreateImportJobValidation(t *testing.T) {
	o := newTestOrchestrator(t, store.NewMemoryStore(), nil)
	ctx := context.Background()

	if _, err := o.CreateImportJob(ctx, nil, "user-1"); err == nil {
		t.Error("expected error for nil payload")
	}

	payload := importPayload(2)
	payload.Mode = "everything"
	if _, err := o.CreateImportJob(ctx, payload, "user-1"); err == nil {
		t.Error("expected error for invalid mode")
	}

	if _, err := o.CreateImportJob(ctx, importPayload(2), ""); err == nil {
		t.Error("expected error for empty owner")
	}
	o.Wait()
}

func TestImportFailsOnUnparsableFile(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, nil)

	payload := &models.ImportPayload{
		FileName:  "broken.csv",
		RawData:   []byte("Wrong,Header\n1,2\n"),
		AccountID: "acc-1",
		Mode:      models.ImportModeNewOnly,
	}

	jobID, err := o.CreateImportJob(context.Background(), payload, "user-1")
	if err != nil {
		t.Fatalf("CreateImportJob failed: %v", err)
	}
	o.Wait()

	job, _ := o.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("failed job must carry an error message")
	}
}

func TestCleanupExpired(t *testing.T) {
	ms := store.NewMemoryStore()
	o := newTestOrchestrator(t, ms, &Config{SubBatchSize: 10, Retention: time.Hour})
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC()

	jobs := []*models.BackgroundJob{
		{ID: "old-done", Type: models.JobTypeImport, Status: models.JobStatusCompleted, OwnerID: "u", CreatedAt: old, UpdatedAt: old, CompletedAt: &old},
		{ID: "new-done", Type: models.JobTypeImport, Status: models.JobStatusCompleted, OwnerID: "u", CreatedAt: recent, UpdatedAt: recent, CompletedAt: &recent},
		{ID: "running", Type: models.JobTypeImport, Status: models.JobStatusProcessing, OwnerID: "u", CreatedAt: old, UpdatedAt: old},
	}
	for _, job := range jobs {
		if err := ms.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob %s: %v", job.ID, err)
		}
	}

	removed, err := o.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := ms.GetJob(ctx, "old-done"); err == nil {
		t.Error("expired job still present")
	}
	if _, err := ms.GetJob(ctx, "new-done"); err != nil {
		t.Error("recent job removed")
	}
	if _, err := ms.GetJob(ctx, "running"); err != nil {
		t.Error("non-terminal job removed")
	}
}
