package matcher

import (
	"math"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
)

// Match reasons attached to SimilarityScore. Downstream consumers key
// on these strings, so they are part of the contract.
const (
	ReasonExact       = "exact"
	ReasonDateShift   = "date-shift"
	ReasonAmountMatch = "amount-match"
	ReasonDescription = "description-overlap"
)

// SimilarityScore is the outcome of comparing one incoming record with
// one persisted transaction.
type SimilarityScore struct {
	Similarity float64  `json:"similarity"`
	Reasons    []string `json:"reasons"`
}

// Matcher scores record pairs. It holds configuration only; every
// method is pure.
type Matcher struct {
	config *MatcherConfig
}

// NewMatcher creates a matcher with the given configuration.
func NewMatcher(config *MatcherConfig) (*Matcher, error) {
	if config == nil {
		config = DefaultMatcherConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matcher_config", "", err)
	}

	return &Matcher{config: config.Clone()}, nil
}

// Config returns a copy of the matcher configuration.
func (m *Matcher) Config() *MatcherConfig {
	return m.config.Clone()
}

// DuplicateThreshold exposes the configured duplicate cutoff for the
// reconciliation engine.
func (m *Matcher) DuplicateThreshold() float64 {
	return m.config.DuplicateThreshold
}

// Score compares an incoming record with a persisted transaction and
// returns a similarity in [0,1] with the reasons that produced it.
//
// Exact agreement on calendar date, absolute amount and normalized
// description scores 1.0. Equal amounts within the date tolerance
// window with strong description overlap are pinned to a high score so
// settlement-date skew does not hide duplicates.
func (m *Matcher) Score(incoming *models.TransactionRecord, existing *models.PersistedTransaction) SimilarityScore {
	if incoming == nil || existing == nil {
		return SimilarityScore{}
	}

	// Opposite-direction records are never duplicates of each other;
	// that shape belongs to refund classification.
	if incoming.Type != existing.Type {
		return SimilarityScore{}
	}

	amountScore := amountScore(incoming, &existing.TransactionRecord)
	dateScore := m.dateScore(incoming, &existing.TransactionRecord)
	descScore := descriptionScore(incoming.Description, existing.Description)

	score := SimilarityScore{
		Similarity: amountScore*m.config.Weights.AmountWeight +
			dateScore*m.config.Weights.DateWeight +
			descScore*m.config.Weights.DescriptionWeight,
	}

	sameDate := models.SameCalendarDate(incoming.Date, existing.Date)
	exactDescription := models.NormalizeDescription(incoming.Description) == models.NormalizeDescription(existing.Description)

	if amountScore == 1.0 && sameDate && exactDescription {
		return SimilarityScore{Similarity: 1.0, Reasons: []string{ReasonExact}}
	}

	if amountScore == 1.0 {
		score.Reasons = append(score.Reasons, ReasonAmountMatch)

		if !sameDate && dateScore > 0 {
			score.Reasons = append(score.Reasons, ReasonDateShift)
			if descScore >= m.config.StrongOverlap {
				score.Similarity = math.Max(score.Similarity, 0.9)
			}
		}
	}

	if descScore >= m.config.StrongOverlap {
		score.Reasons = append(score.Reasons, ReasonDescription)
	}

	return score
}

// ClassifyPair decides whether two records of the same incoming batch
// form a refund or PIX-unification pair. It returns the group kind and
// whether the pair qualifies at all.
func (m *Matcher) ClassifyPair(a, b *models.TransactionRecord) (models.GroupKind, bool) {
	if a == nil || b == nil || a.ID == b.ID {
		return "", false
	}

	if !a.Amount.Equal(b.Amount) {
		return "", false
	}

	if m.isRefundPair(a, b) {
		return models.GroupKindRefund, true
	}

	if m.isPixPair(a, b) {
		return models.GroupKindPix, true
	}

	return "", false
}

// isRefundPair reports an opposite-sign pair of equal magnitude within
// the refund window whose descriptions strongly overlap.
func (m *Matcher) isRefundPair(a, b *models.TransactionRecord) bool {
	if a.Type == b.Type {
		return false
	}

	if models.DateDistance(a.Date, b.Date) > m.config.RefundWindowDays {
		return false
	}

	return descriptionScore(a.Description, b.Description) >= m.config.StrongOverlap
}

// isPixPair reports a card leg and a pix leg of equal magnitude in the
// same statement period, two statement lines describing one payment.
func (m *Matcher) isPixPair(a, b *models.TransactionRecord) bool {
	if a.Type != b.Type {
		return false
	}

	if !models.SameStatementPeriod(a.Date, b.Date) {
		return false
	}

	methods := map[models.PaymentMethod]bool{
		a.PaymentMethod: true,
		b.PaymentMethod: true,
	}
	return methods[models.PaymentMethodCard] && methods[models.PaymentMethodPix]
}

// amountScore is binary: duplicate detection tolerates no amount drift.
func amountScore(a, b *models.TransactionRecord) float64 {
	if a.Amount.Equal(b.Amount) {
		return 1.0
	}
	return 0.0
}

// dateScore decays linearly across the tolerance window. Same calendar
// date scores 1.0; each day of distance costs an equal share until the
// window edge, beyond which the score is zero.
func (m *Matcher) dateScore(a, b *models.TransactionRecord) float64 {
	distance := models.DateDistance(a.Date, b.Date)

	if m.config.DateToleranceDays == 0 {
		if distance == 0 {
			return 1.0
		}
		return 0.0
	}

	if distance > m.config.DateToleranceDays {
		return 0.0
	}

	return 1.0 - float64(distance)/float64(m.config.DateToleranceDays+1)
}

// descriptionScore measures token overlap between two descriptions as
// the Jaccard ratio of their normalized token sets. Identical
// normalized descriptions score 1.0 even when tokenization is empty.
func descriptionScore(a, b string) float64 {
	if models.NormalizeDescription(a) == models.NormalizeDescription(b) {
		return 1.0
	}

	tokensA := models.DescriptionTokens(a)
	tokensB := models.DescriptionTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, token := range tokensA {
		setA[token] = true
	}

	union := make(map[string]bool, len(tokensA)+len(tokensB))
	for _, token := range tokensA {
		union[token] = true
	}

	intersection := 0
	counted := make(map[string]bool, len(tokensB))
	for _, token := range tokensB {
		union[token] = true
		if setA[token] && !counted[token] {
			intersection++
			counted[token] = true
		}
	}

	return float64(intersection) / float64(len(union))
}
