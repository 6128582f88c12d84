// Package models defines the canonical data types shared by the import
// pipeline: parsed transaction records, persisted transactions, duplicate
// candidates, transaction groups, categorization results and background jobs.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a record by the direction of money flow.
type TransactionType string

const (
	// TransactionTypeIncome represents money entering the account.
	TransactionTypeIncome TransactionType = "income"
	// TransactionTypeExpense represents money leaving the account.
	TransactionTypeExpense TransactionType = "expense"
)

// String returns the string representation of TransactionType.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// PaymentMethod identifies how a statement line was settled. It drives
// PIX-unification: a card leg and a pix leg of equal magnitude inside the
// same statement period describe one real-world payment.
type PaymentMethod string

const (
	PaymentMethodCard  PaymentMethod = "card"
	PaymentMethodPix   PaymentMethod = "pix"
	PaymentMethodOther PaymentMethod = "other"
)

// TransactionRecord is a canonical parsed statement line. Amount always
// carries the absolute magnitude; the sign information lives in Type.
type TransactionRecord struct {
	ID                  string          `json:"id"`
	Date                time.Time       `json:"date"`
	Amount              decimal.Decimal `json:"amount"`
	Type                TransactionType `json:"type"`
	Description         string          `json:"description"`
	OriginalDescription string          `json:"originalDescription"`
	PaymentMethod       PaymentMethod   `json:"paymentMethod"`
}

// NewTransactionRecord creates a record from a signed amount, storing the
// absolute value and deriving the type from the sign.
func NewTransactionRecord(id string, date time.Time, signedAmount decimal.Decimal, description string) *TransactionRecord {
	txType := TransactionTypeIncome
	if signedAmount.IsNegative() {
		txType = TransactionTypeExpense
	}

	return &TransactionRecord{
		ID:                  id,
		Date:                date,
		Amount:              signedAmount.Abs(),
		Type:                txType,
		Description:         strings.TrimSpace(description),
		OriginalDescription: description,
		PaymentMethod:       DerivePaymentMethod(description),
	}
}

// Validate performs basic validation on the TransactionRecord.
func (r *TransactionRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("transaction record id cannot be empty")
	}

	if r.Date.IsZero() {
		return fmt.Errorf("transaction record date cannot be zero")
	}

	if r.Amount.IsNegative() {
		return fmt.Errorf("transaction record amount must be an absolute value, got %s", r.Amount.String())
	}

	if !r.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", r.Type)
	}

	return nil
}

// SignedAmount reconstructs the original signed magnitude from the
// absolute amount and the type.
func (r *TransactionRecord) SignedAmount() decimal.Decimal {
	if r.Type == TransactionTypeExpense {
		return r.Amount.Neg()
	}
	return r.Amount
}

// String returns a string representation of the TransactionRecord.
func (r *TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{ID: %s, Date: %s, Amount: %s, Type: %s, Description: %s}",
		r.ID, r.Date.Format("2006-01-02"), r.Amount.String(), r.Type, r.Description)
}

// Clone returns a copy of the record.
func (r *TransactionRecord) Clone() *TransactionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// PersistedTransaction is a TransactionRecord with storage identity and
// ownership. Instances are owned by the persistence collaborator; the
// pipeline reads them and proposes writes, never mutates them in place.
type PersistedTransaction struct {
	TransactionRecord

	StorageID       string `json:"storageId"`
	UserID          string `json:"userId"`
	AccountID       string `json:"accountId"`
	CategoryID      string `json:"categoryId,omitempty"`
	SubcategoryID   string `json:"subcategoryId,omitempty"`
	ImportSessionID string `json:"importSessionId,omitempty"`
}

// Validate performs basic validation on the PersistedTransaction.
func (p *PersistedTransaction) Validate() error {
	if err := p.TransactionRecord.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(p.StorageID) == "" {
		return fmt.Errorf("persisted transaction storage id cannot be empty")
	}

	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("persisted transaction user id cannot be empty")
	}

	return nil
}

// DuplicateCandidate pairs an incoming record with the persisted
// transaction it most likely duplicates. Produced per reconciliation run,
// never persisted.
type DuplicateCandidate struct {
	Existing   *PersistedTransaction `json:"existing"`
	Incoming   *TransactionRecord    `json:"incoming"`
	Similarity float64               `json:"similarity"`
	Reasons    []string              `json:"reasons"`
}

// GroupKind identifies why two transactions are grouped into one
// economic event.
type GroupKind string

const (
	// GroupKindRefund links a purchase with its reversal.
	GroupKindRefund GroupKind = "refund"
	// GroupKindPix links a credit-card leg with its instant-payment leg.
	GroupKindPix GroupKind = "pix"
)

// IsValid checks if the group kind is valid.
func (k GroupKind) IsValid() bool {
	return k == GroupKindRefund || k == GroupKindPix
}

// TransactionGroup references exactly two records that must be displayed
// and counted as one economic event. The suppressed leg is excluded from
// independent categorization and from amount aggregates.
type TransactionGroup struct {
	Kind       GroupKind          `json:"kind"`
	Primary    *TransactionRecord `json:"primary"`
	Suppressed *TransactionRecord `json:"suppressed"`
}

// Validate performs basic validation on the TransactionGroup.
func (g *TransactionGroup) Validate() error {
	if !g.Kind.IsValid() {
		return fmt.Errorf("invalid group kind: %s", g.Kind)
	}

	if g.Primary == nil || g.Suppressed == nil {
		return fmt.Errorf("transaction group must reference exactly two records")
	}

	if g.Primary.ID == g.Suppressed.ID {
		return fmt.Errorf("transaction group legs must be distinct records")
	}

	return nil
}

// CategorizationSource identifies which path produced a categorization
// result.
type CategorizationSource string

const (
	// SourceAI marks results returned by the external classifier.
	SourceAI CategorizationSource = "ai"
	// SourceFallback marks results produced by the keyword rule table.
	SourceFallback CategorizationSource = "fallback"
	// SourceNone marks transactions deliberately excluded from
	// categorization, such as bill payments and suppressed group legs.
	SourceNone CategorizationSource = "none"
)

// IsValid checks if the categorization source is valid.
func (s CategorizationSource) IsValid() bool {
	return s == SourceAI || s == SourceFallback || s == SourceNone
}

// CategorizationResult assigns a category to a single transaction.
type CategorizationResult struct {
	TransactionID string               `json:"transactionId"`
	CategoryID    string               `json:"categoryId,omitempty"`
	SubcategoryID string               `json:"subcategoryId,omitempty"`
	Confidence    float64              `json:"confidence"`
	Reasoning     string               `json:"reasoning,omitempty"`
	Source        CategorizationSource `json:"source"`
}

// Category is one entry of the taxonomy sent to the external classifier.
type Category struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Subcategories []Subcategory `json:"subcategories,omitempty"`
}

// Subcategory is a refinement of a Category.
type Subcategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategoryTaxonomy is the closed set of categories known to the system.
// It is sent to the classifier and used to validate its responses.
type CategoryTaxonomy struct {
	Categories []Category `json:"categories"`
}

// HasCategory reports whether the taxonomy contains the given category id.
func (t *CategoryTaxonomy) HasCategory(categoryID string) bool {
	for _, c := range t.Categories {
		if c.ID == categoryID {
			return true
		}
	}
	return false
}

// HasSubcategory reports whether categoryID contains subcategoryID. An
// empty subcategory id is always acceptable.
func (t *CategoryTaxonomy) HasSubcategory(categoryID, subcategoryID string) bool {
	if subcategoryID == "" {
		return true
	}
	for _, c := range t.Categories {
		if c.ID != categoryID {
			continue
		}
		for _, s := range c.Subcategories {
			if s.ID == subcategoryID {
				return true
			}
		}
	}
	return false
}

var descriptionStripPrefixes = []string{
	"COMPRA ", "PAGAMENTO ", "PGTO ", "TRANSFERENCIA ", "TRANSF ", "TED ", "DOC ",
}

// NormalizeDescription lowercases, collapses whitespace and strips common
// bank prefixes so textually equivalent descriptions compare equal.
func NormalizeDescription(description string) string {
	normalized := strings.ToUpper(strings.TrimSpace(description))

	for _, prefix := range descriptionStripPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			normalized = strings.TrimPrefix(normalized, prefix)
			break
		}
	}

	fields := strings.Fields(normalized)
	return strings.ToLower(strings.Join(fields, " "))
}

// DescriptionTokens splits a normalized description into comparable
// tokens, dropping punctuation and single-character fragments.
func DescriptionTokens(description string) []string {
	normalized := NormalizeDescription(description)

	rawTokens := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(rawTokens))
	for _, token := range rawTokens {
		if len(token) > 1 {
			tokens = append(tokens, token)
		}
	}

	return tokens
}

// DerivePaymentMethod inspects a description for payment rail markers.
func DerivePaymentMethod(description string) PaymentMethod {
	normalized := NormalizeDescription(description)

	switch {
	case strings.Contains(normalized, "pix"):
		return PaymentMethodPix
	case strings.Contains(normalized, "cartao") || strings.Contains(normalized, "card"):
		return PaymentMethodCard
	default:
		return PaymentMethodOther
	}
}

// ParseLocalizedDecimal parses an amount string using locale-specific
// separators. With commaDecimal the comma is the decimal separator and
// the dot groups thousands ("1.234,56"); otherwise the roles invert.
// Currency symbols and surrounding whitespace are tolerated.
func ParseLocalizedDecimal(s string, commaDecimal bool) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	cleaned = strings.ReplaceAll(cleaned, "R$", "")
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	if commaDecimal {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}

	return d, nil
}

// ParseStatementDate parses a statement date in the configured source
// format (dd/mm/yyyy by default) into a calendar date at midnight UTC.
func ParseStatementDate(s, layout string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	if layout == "" {
		layout = "02/01/2006"
	}

	t, err := time.Parse(layout, cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' for layout %s: %w", s, layout, err)
	}

	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// SameCalendarDate compares two times by calendar date only.
func SameCalendarDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

// DateDistance returns the absolute distance between two dates in whole
// days, ignoring the time-of-day component.
func DateDistance(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	aMid := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bMid := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := aMid.Sub(bMid)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// SameStatementPeriod reports whether two dates fall into the same
// statement month.
func SameStatementPeriod(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
