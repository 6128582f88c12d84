// Package integrity detects accidental mutation of transaction records
// during interactive review. A Guard snapshots a batch before a
// single-record edit and afterwards reports every other record whose
// fields changed. It diagnoses violations, it never repairs them.
package integrity

import (
	"fmt"
	"strings"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/logger"
)

// FieldChange describes one mutated field on one record.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Violation is a record that changed when it should not have.
type Violation struct {
	RecordID string        `json:"recordId"`
	Removed  bool          `json:"removed,omitempty"`
	Added    bool          `json:"added,omitempty"`
	Changes  []FieldChange `json:"changes,omitempty"`
}

// Diagnostic is the result of one integrity check. Clean reports carry
// an empty Violations slice.
type Diagnostic struct {
	EditedID   string      `json:"editedId"`
	Violations []Violation `json:"violations"`
}

// Clean reports whether no record outside the edited one changed.
func (d *Diagnostic) Clean() bool {
	return len(d.Violations) == 0
}

// String renders the diagnostic for log output.
func (d *Diagnostic) String() string {
	if d.Clean() {
		return fmt.Sprintf("integrity check passed (edited %s)", d.EditedID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "integrity check failed (edited %s): %d record(s) unexpectedly changed", d.EditedID, len(d.Violations))
	for _, v := range d.Violations {
		switch {
		case v.Removed:
			fmt.Fprintf(&sb, "; %s removed", v.RecordID)
		case v.Added:
			fmt.Fprintf(&sb, "; %s added", v.RecordID)
		default:
			for _, c := range v.Changes {
				fmt.Fprintf(&sb, "; %s.%s %q -> %q", v.RecordID, c.Field, c.Before, c.After)
			}
		}
	}
	return sb.String()
}

type fingerprint struct {
	date          string
	amount        string
	txType        string
	description   string
	original      string
	paymentMethod string
}

func fingerprintOf(record *models.TransactionRecord) fingerprint {
	return fingerprint{
		date:          record.Date.Format("2006-01-02"),
		amount:        record.SignedAmount().String(),
		txType:        string(record.Type),
		description:   record.Description,
		original:      record.OriginalDescription,
		paymentMethod: string(record.PaymentMethod),
	}
}

func (f fingerprint) diff(after fingerprint) []FieldChange {
	var changes []FieldChange
	compare := func(field, before, now string) {
		if before != now {
			changes = append(changes, FieldChange{Field: field, Before: before, After: now})
		}
	}
	compare("date", f.date, after.date)
	compare("amount", f.amount, after.amount)
	compare("type", f.txType, after.txType)
	compare("description", f.description, after.description)
	compare("originalDescription", f.original, after.original)
	compare("paymentMethod", f.paymentMethod, after.paymentMethod)
	return changes
}

// Guard compares a batch against the snapshot taken before an edit.
type Guard struct {
	snapshot map[string]fingerprint
	order    []string
	logger   logger.Logger
}

// NewGuard creates a guard with no snapshot taken yet.
func NewGuard() *Guard {
	return &Guard{
		logger: logger.GetGlobalLogger().WithComponent("integrity_guard"),
	}
}

// Snapshot captures the current field values of every record. It
// replaces any previous snapshot.
func (g *Guard) Snapshot(records []*models.TransactionRecord) {
	g.snapshot = make(map[string]fingerprint, len(records))
	g.order = g.order[:0]
	for _, record := range records {
		if record == nil {
			continue
		}
		g.snapshot[record.ID] = fingerprintOf(record)
		g.order = append(g.order, record.ID)
	}
}

// Check compares the batch against the last snapshot and reports every
// record other than editedID that changed, disappeared, or appeared.
// The edited record itself is allowed to change freely. Violations are
// listed in snapshot order, additions last.
func (g *Guard) Check(editedID string, records []*models.TransactionRecord) *Diagnostic {
	diag := &Diagnostic{EditedID: editedID}

	current := make(map[string]fingerprint, len(records))
	var added []string
	for _, record := range records {
		if record == nil {
			continue
		}
		current[record.ID] = fingerprintOf(record)
		if _, known := g.snapshot[record.ID]; !known && record.ID != editedID {
			added = append(added, record.ID)
		}
	}

	for _, id := range g.order {
		if id == editedID {
			continue
		}
		before := g.snapshot[id]
		after, present := current[id]
		if !present {
			diag.Violations = append(diag.Violations, Violation{RecordID: id, Removed: true})
			continue
		}
		if changes := before.diff(after); len(changes) > 0 {
			diag.Violations = append(diag.Violations, Violation{RecordID: id, Changes: changes})
		}
	}

	for _, id := range added {
		diag.Violations = append(diag.Violations, Violation{RecordID: id, Added: true})
	}

	if !diag.Clean() {
		g.logger.WithFields(logger.Fields{
			"edited_id":  editedID,
			"violations": len(diag.Violations),
		}).Warn(diag.String())
	}

	return diag
}
