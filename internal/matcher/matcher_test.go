package matcher

import (
	"testing"
	"time"

	"statement-import-service/internal/models"

	"github.com/shopspring/decimal"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func record(id string, date time.Time, signedAmount, description string) *models.TransactionRecord {
	return models.NewTransactionRecord(id, date, decimal.RequireFromString(signedAmount), description)
}

func persisted(storageID string, date time.Time, signedAmount, description string) *models.PersistedTransaction {
	return &models.PersistedTransaction{
		TransactionRecord: *record(storageID, date, signedAmount, description),
		StorageID:         storageID,
		UserID:            "user-1",
		AccountID:         "acc-1",
	}
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()

	m, err := NewMatcher(DefaultMatcherConfig())
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	return m
}

func hasReason(score SimilarityScore, reason string) bool {
	for _, r := range score.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

func TestScoreExactMatch(t *testing.T) {
	m := newTestMatcher(t)

	incoming := record("in-1", day(10), "-45.80", "SUPERMERCADO EXTRA")
	existing := persisted("ex-1", day(10), "-45.80", "COMPRA SUPERMERCADO EXTRA")

	score := m.Score(incoming, existing)
	if score.Similarity != 1.0 {
		t.Errorf("expected similarity 1.0, got %f", score.Similarity)
	}
	if len(score.Reasons) != 1 || score.Reasons[0] != ReasonExact {
		t.Errorf("expected single reason %q, got %v", ReasonExact, score.Reasons)
	}
}

func TestScoreDateShift(t *testing.T) {
	m := newTestMatcher(t)

	incoming := record("in-1", day(10), "-45.80", "SUPERMERCADO EXTRA")

	tests := []struct {
		name     string
		existing *models.PersistedTransaction
		aboveCut bool
	}{
		{"one day skew", persisted("ex-1", day(11), "-45.80", "SUPERMERCADO EXTRA"), true},
		{"two day skew", persisted("ex-2", day(12), "-45.80", "SUPERMERCADO EXTRA"), true},
		{"outside window", persisted("ex-3", day(15), "-45.80", "SUPERMERCADO EXTRA"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := m.Score(incoming, tt.existing)

			above := score.Similarity >= m.DuplicateThreshold()
			if above != tt.aboveCut {
				t.Errorf("similarity %f, threshold %f: above=%v, want %v",
					score.Similarity, m.DuplicateThreshold(), above, tt.aboveCut)
			}
			if tt.aboveCut && !hasReason(score, ReasonDateShift) {
				t.Errorf("expected reason %q, got %v", ReasonDateShift, score.Reasons)
			}
		})
	}
}

func TestScoreOppositeTypesNeverDuplicate(t *testing.T) {
	m := newTestMatcher(t)

	incoming := record("in-1", day(10), "-45.80", "SUPERMERCADO EXTRA")
	existing := persisted("ex-1", day(10), "45.80", "SUPERMERCADO EXTRA")

	if score := m.Score(incoming, existing); score.Similarity != 0 {
		t.Errorf("opposite-direction pair must score 0, got %f", score.Similarity)
	}
}

func TestScoreDifferentAmounts(t *testing.T) {
	m := newTestMatcher(t)

	incoming := record("in-1", day(10), "-45.80", "SUPERMERCADO EXTRA")
	existing := persisted("ex-1", day(10), "-46.80", "SUPERMERCADO EXTRA")

	score := m.Score(incoming, existing)
	if score.Similarity >= m.DuplicateThreshold() {
		t.Errorf("amount mismatch must stay below threshold, got %f", score.Similarity)
	}
	if hasReason(score, ReasonAmountMatch) {
		t.Errorf("unexpected amount-match reason: %v", score.Reasons)
	}
}

func TestScoreIsPure(t *testing.T) {
	m := newTestMatcher(t)

	incoming := record("in-1", day(10), "-45.80", "SUPERMERCADO EXTRA")
	existing := persisted("ex-1", day(11), "-45.80", "SUPERMERCADO EXTRA LTDA")

	first := m.Score(incoming, existing)
	second := m.Score(incoming, existing)
	if first.Similarity != second.Similarity {
		t.Errorf("score not deterministic: %f vs %f", first.Similarity, second.Similarity)
	}
}

func TestClassifyPairRefund(t *testing.T) {
	m := newTestMatcher(t)

	// Purchase on day 10, reversal of the same magnitude on day 12
	// sharing description tokens.
	purchase := record("a", day(10), "-50.00", "LOJA ONLINE PEDIDO 981")
	reversal := record("b", day(12), "50.00", "ESTORNO LOJA ONLINE PEDIDO 981")

	kind, ok := m.ClassifyPair(purchase, reversal)
	if !ok {
		t.Fatal("expected refund pair to classify")
	}
	if kind != models.GroupKindRefund {
		t.Errorf("expected refund kind, got %s", kind)
	}
}

func TestClassifyPairRefundRejections(t *testing.T) {
	m := newTestMatcher(t)

	tests := []struct {
		name string
		a, b *models.TransactionRecord
	}{
		{
			"same direction",
			record("a", day(10), "-50.00", "LOJA ONLINE PEDIDO 981"),
			record("b", day(12), "-50.00", "LOJA ONLINE PEDIDO 981"),
		},
		{
			"different magnitude",
			record("a", day(10), "-50.00", "LOJA ONLINE PEDIDO 981"),
			record("b", day(12), "49.00", "ESTORNO LOJA ONLINE PEDIDO 981"),
		},
		{
			"outside refund window",
			record("a", day(1), "-50.00", "LOJA ONLINE PEDIDO 981"),
			record("b", day(20), "50.00", "ESTORNO LOJA ONLINE PEDIDO 981"),
		},
		{
			"unrelated descriptions",
			record("a", day(10), "-50.00", "LOJA ONLINE PEDIDO 981"),
			record("b", day(12), "50.00", "DEPOSITO CAIXA ELETRONICO"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if kind, ok := m.ClassifyPair(tt.a, tt.b); ok && kind == models.GroupKindRefund {
				t.Errorf("pair must not classify as refund")
			}
		})
	}
}

func TestClassifyPairPix(t *testing.T) {
	m := newTestMatcher(t)

	card := record("a", day(10), "-120.00", "CARTAO RESTAURANTE BELA VISTA")
	pix := record("b", day(10), "-120.00", "PIX RESTAURANTE BELA VISTA")

	kind, ok := m.ClassifyPair(card, pix)
	if !ok {
		t.Fatal("expected pix pair to classify")
	}
	if kind != models.GroupKindPix {
		t.Errorf("expected pix kind, got %s", kind)
	}

	// Same legs split across statement months no longer unify.
	latePix := record("c", day(10).AddDate(0, 1, 0), "-120.00", "PIX RESTAURANTE BELA VISTA")
	if _, ok := m.ClassifyPair(card, latePix); ok {
		t.Error("legs in different statement periods must not unify")
	}
}

func TestClassifyPairSelf(t *testing.T) {
	m := newTestMatcher(t)

	a := record("a", day(10), "-50.00", "LOJA ONLINE")
	if _, ok := m.ClassifyPair(a, a); ok {
		t.Error("a record must not pair with itself")
	}
}

func TestDescriptionScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "SUPERMERCADO EXTRA", "SUPERMERCADO EXTRA", 1.0, 1.0},
		{"prefix stripped", "COMPRA SUPERMERCADO EXTRA", "SUPERMERCADO EXTRA", 1.0, 1.0},
		{"partial overlap", "LOJA ONLINE PEDIDO 981", "ESTORNO LOJA ONLINE PEDIDO 981", 0.5, 1.0},
		{"no overlap", "SUPERMERCADO EXTRA", "POSTO SHELL", 0.0, 0.0},
		{"empty", "", "SUPERMERCADO EXTRA", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := descriptionScore(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("descriptionScore(%q, %q) = %f, want within [%f, %f]",
					tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestMatcherConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MatcherConfig)
		wantErr bool
	}{
		{"default", func(*MatcherConfig) {}, false},
		{"strict", func(c *MatcherConfig) { *c = *StrictMatcherConfig() }, false},
		{"relaxed", func(c *MatcherConfig) { *c = *RelaxedMatcherConfig() }, false},
		{"negative tolerance", func(c *MatcherConfig) { c.DateToleranceDays = -1 }, true},
		{"zero threshold", func(c *MatcherConfig) { c.DuplicateThreshold = 0 }, true},
		{"threshold above one", func(c *MatcherConfig) { c.DuplicateThreshold = 1.5 }, true},
		{"weights off balance", func(c *MatcherConfig) { c.Weights.AmountWeight = 0.9 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatcherConfig()
			tt.mutate(config)

			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
