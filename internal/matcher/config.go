// Package matcher scores incoming statement records against persisted
// transactions and classifies refund and PIX pairs.
//
// Scoring is pure and side-effect free. All policy lives in
// MatcherConfig so the matcher can be unit-tested in isolation from the
// reconciliation engine:
//
//	config := matcher.DefaultMatcherConfig()
//	config.DateToleranceDays = 2
//
//	m, err := matcher.NewMatcher(config)
//	score := m.Score(incoming, existing)
package matcher

import "fmt"

// MatcherConfig holds the tunable thresholds of duplicate scoring and
// pair classification. Use the factory functions for common scenarios:
//   - DefaultMatcherConfig(): balanced settings for most banks
//   - StrictMatcherConfig(): exact-leaning settings for audits
//   - RelaxedMatcherConfig(): loose settings for exploratory matching
type MatcherConfig struct {
	// DateToleranceDays is the window for duplicate date matching,
	// covering settlement-date skew between statement exports.
	DateToleranceDays int `json:"date_tolerance_days"`

	// RefundWindowDays is the maximum distance between a purchase and
	// its reversal for refund classification.
	RefundWindowDays int `json:"refund_window_days"`

	// DuplicateThreshold is the minimum similarity for a pair to be
	// considered a duplicate candidate.
	DuplicateThreshold float64 `json:"duplicate_threshold"`

	// StrongOverlap is the token-overlap ratio treated as strong
	// description agreement, used by refund classification and the
	// date-shift rule.
	StrongOverlap float64 `json:"strong_overlap"`

	// Weights define the relative importance of each criterion in the
	// composite similarity score.
	Weights MatcherWeights `json:"weights"`
}

// MatcherWeights defines the relative importance of matching criteria.
// The weights must sum to 1.0.
type MatcherWeights struct {
	AmountWeight      float64 `json:"amount_weight"`
	DateWeight        float64 `json:"date_weight"`
	DescriptionWeight float64 `json:"description_weight"`
}

// DefaultMatcherConfig returns a configuration with sensible defaults.
func DefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		DateToleranceDays:  2,
		RefundWindowDays:   7,
		DuplicateThreshold: 0.85,
		StrongOverlap:      0.5,
		Weights: MatcherWeights{
			AmountWeight:      0.5,
			DateWeight:        0.3,
			DescriptionWeight: 0.2,
		},
	}
}

// StrictMatcherConfig returns a configuration requiring near-exact
// agreement before flagging duplicates.
func StrictMatcherConfig() *MatcherConfig {
	config := DefaultMatcherConfig()
	config.DateToleranceDays = 0
	config.RefundWindowDays = 3
	config.DuplicateThreshold = 0.95
	config.StrongOverlap = 0.75
	return config
}

// RelaxedMatcherConfig returns a configuration with loose tolerances
// for exploratory matching.
func RelaxedMatcherConfig() *MatcherConfig {
	config := DefaultMatcherConfig()
	config.DateToleranceDays = 5
	config.RefundWindowDays = 14
	config.DuplicateThreshold = 0.7
	config.StrongOverlap = 0.3
	return config
}

// Validate checks if the matcher configuration is valid.
func (c *MatcherConfig) Validate() error {
	if c.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative, got %d", c.DateToleranceDays)
	}

	if c.RefundWindowDays < 0 {
		return fmt.Errorf("refund window days cannot be negative, got %d", c.RefundWindowDays)
	}

	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate threshold must be within (0,1], got %f", c.DuplicateThreshold)
	}

	if c.StrongOverlap < 0 || c.StrongOverlap > 1 {
		return fmt.Errorf("strong overlap must be within [0,1], got %f", c.StrongOverlap)
	}

	weightSum := c.Weights.AmountWeight + c.Weights.DateWeight + c.Weights.DescriptionWeight
	if weightSum < 0.99 || weightSum > 1.01 {
		return fmt.Errorf("matching weights must sum to 1.0, got %f", weightSum)
	}

	return nil
}

// Clone creates a copy of the matcher configuration.
func (c *MatcherConfig) Clone() *MatcherConfig {
	if c == nil {
		return nil
	}

	clone := *c
	return &clone
}
