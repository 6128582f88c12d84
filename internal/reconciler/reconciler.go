// Package reconciler partitions an incoming statement batch against the
// already-persisted history: which records are new, which duplicate an
// existing transaction, and which pair up into refund or PIX groups.
// The engine classifies only; it never writes.
package reconciler

import (
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// Partition is the classification of one incoming batch.
type Partition struct {
	NewOnly    []*models.TransactionRecord  `json:"newOnly"`
	Duplicates []*models.DuplicateCandidate `json:"duplicates"`
	Groups     []*models.TransactionGroup   `json:"groups"`
}

// PlanAction tells the persistence stage what to do with one record.
type PlanAction string

const (
	ActionInsert PlanAction = "insert"
	ActionUpdate PlanAction = "update"
	ActionSkip   PlanAction = "skip"
)

// PlanEntry is one record resolved against an import mode. Target is
// set only for updates and carries the StorageID being overwritten.
type PlanEntry struct {
	Record *models.TransactionRecord    `json:"record"`
	Action PlanAction                   `json:"action"`
	Target *models.PersistedTransaction `json:"target,omitempty"`
}

// ImportPlan is the persistence work list derived from a partition and
// an import mode.
type ImportPlan struct {
	Entries []PlanEntry                `json:"entries"`
	Groups  []*models.TransactionGroup `json:"groups"`
}

// Reconciler classifies incoming batches using a configured matcher.
type Reconciler struct {
	matcher *matcher.Matcher
	logger  logger.Logger
}

// NewReconciler creates a reconciler. A nil matcher gets default
// configuration.
func NewReconciler(m *matcher.Matcher) (*Reconciler, error) {
	if m == nil {
		var err error
		m, err = matcher.NewMatcher(nil)
		if err != nil {
			return nil, err
		}
	}

	return &Reconciler{
		matcher: m,
		logger:  logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// Reconcile partitions the incoming batch against persisted history.
// The result is deterministic for a given input: ties between equally
// scoring existing matches break by smallest date distance, then by
// earliest StorageID.
func (r *Reconciler) Reconcile(incoming []*models.TransactionRecord, existing []*models.PersistedTransaction) *Partition {
	partition := &Partition{}

	var unmatched []*models.TransactionRecord
	for _, record := range incoming {
		if candidate := r.bestMatch(record, existing); candidate != nil {
			partition.Duplicates = append(partition.Duplicates, candidate)
		} else {
			unmatched = append(unmatched, record)
		}
	}

	partition.NewOnly, partition.Groups = r.groupWithinBatch(unmatched)

	r.logger.WithFields(logger.Fields{
		"incoming":   len(incoming),
		"existing":   len(existing),
		"new_only":   len(partition.NewOnly),
		"duplicates": len(partition.Duplicates),
		"groups":     len(partition.Groups),
	}).Debug("Reconciliation partition computed")

	return partition
}

// bestMatch returns the highest-scoring duplicate candidate above the
// threshold, or nil when the record matches nothing.
func (r *Reconciler) bestMatch(record *models.TransactionRecord, existing []*models.PersistedTransaction) *models.DuplicateCandidate {
	var best *models.DuplicateCandidate

	for _, persisted := range existing {
		score := r.matcher.Score(record, persisted)
		if score.Similarity < r.matcher.DuplicateThreshold() {
			continue
		}

		candidate := &models.DuplicateCandidate{
			Existing:   persisted,
			Incoming:   record,
			Similarity: score.Similarity,
			Reasons:    score.Reasons,
		}

		if best == nil || betterCandidate(candidate, best) {
			best = candidate
		}
	}

	return best
}

// betterCandidate orders candidates by similarity, then smallest date
// distance, then earliest existing StorageID.
func betterCandidate(a, b *models.DuplicateCandidate) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}

	distA := models.DateDistance(a.Incoming.Date, a.Existing.Date)
	distB := models.DateDistance(b.Incoming.Date, b.Existing.Date)
	if distA != distB {
		return distA < distB
	}

	return a.Existing.StorageID < b.Existing.StorageID
}

// groupWithinBatch pairs unmatched records with each other for refund
// and PIX grouping. Each record joins at most one group; records in no
// group come back as the new-only set.
func (r *Reconciler) groupWithinBatch(records []*models.TransactionRecord) ([]*models.TransactionRecord, []*models.TransactionGroup) {
	grouped := make(map[string]bool, len(records))
	var groups []*models.TransactionGroup

	for i, a := range records {
		if grouped[a.ID] {
			continue
		}
		for _, b := range records[i+1:] {
			if grouped[b.ID] {
				continue
			}

			kind, ok := r.matcher.ClassifyPair(a, b)
			if !ok {
				continue
			}

			groups = append(groups, buildGroup(kind, a, b))
			grouped[a.ID] = true
			grouped[b.ID] = true
			break
		}
	}

	var newOnly []*models.TransactionRecord
	for _, record := range records {
		if !grouped[record.ID] {
			newOnly = append(newOnly, record)
		}
	}

	return newOnly, groups
}

// buildGroup assigns the primary and suppressed legs. For refunds the
// original purchase is primary and the reversal is suppressed; for PIX
// pairs the card leg is primary and the pix leg is suppressed.
func buildGroup(kind models.GroupKind, a, b *models.TransactionRecord) *models.TransactionGroup {
	primary, suppressed := a, b

	switch kind {
	case models.GroupKindRefund:
		if a.Type == models.TransactionTypeIncome {
			primary, suppressed = b, a
		}
	case models.GroupKindPix:
		if a.PaymentMethod == models.PaymentMethodPix {
			primary, suppressed = b, a
		}
	}

	return &models.TransactionGroup{Kind: kind, Primary: primary, Suppressed: suppressed}
}

// Plan resolves a partition into the persistence work list for the
// given import mode.
func (r *Reconciler) Plan(partition *Partition, mode models.ImportMode) (*ImportPlan, error) {
	if !mode.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidData, "import_mode", string(mode), nil)
	}

	plan := &ImportPlan{Groups: partition.Groups}

	appendRecord := func(record *models.TransactionRecord) {
		plan.Entries = append(plan.Entries, PlanEntry{Record: record, Action: ActionInsert})
	}

	for _, record := range partition.NewOnly {
		appendRecord(record)
	}
	for _, group := range partition.Groups {
		appendRecord(group.Primary)
		appendRecord(group.Suppressed)
	}

	for _, dup := range partition.Duplicates {
		switch mode {
		case models.ImportModeNewOnly:
			plan.Entries = append(plan.Entries, PlanEntry{Record: dup.Incoming, Action: ActionSkip, Target: dup.Existing})
		case models.ImportModeUpdateExisting:
			plan.Entries = append(plan.Entries, PlanEntry{Record: dup.Incoming, Action: ActionUpdate, Target: dup.Existing})
		case models.ImportModeImportAll:
			// Everything is attempted; the store's uniqueness constraint
			// decides per record.
			plan.Entries = append(plan.Entries, PlanEntry{Record: dup.Incoming, Action: ActionInsert})
		}
	}

	return plan, nil
}
