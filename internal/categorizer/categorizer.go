// Package categorizer assigns categories to imported transactions. The
// external classifier is the preferred path; a deterministic keyword
// rule table covers everything the classifier does not, so the import
// pipeline never fails because of categorization.
package categorizer

import (
	"context"
	"strings"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// Config holds categorization engine settings.
type Config struct {
	// BatchSize bounds how many transactions go into one classifier
	// call, respecting payload limits.
	BatchSize int `json:"batch_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{BatchSize: 25}
}

// Validate checks if the categorizer configuration is valid.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "categorizer.batch_size", c.BatchSize, nil)
	}
	return nil
}

// Markers excluding a transaction from categorization: credit-card bill
// payments and pure account transfers are moves of money, not spending.
var excludedDescriptionMarkers = []string{
	"fatura", "pagamento de fatura", "transferencia entre contas", "aplicacao", "resgate",
}

// Categorizer runs the two-path categorization flow.
type Categorizer struct {
	config     *Config
	classifier Classifier
	rules      *RuleTable
	taxonomy   models.CategoryTaxonomy
	logger     logger.Logger
}

// NewCategorizer creates a categorization engine. A nil classifier
// skips the external path entirely; nil rules use the built-in table.
func NewCategorizer(config *Config, classifier Classifier, rules *RuleTable) (*Categorizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if rules == nil {
		rules = DefaultRuleTable()
	}

	return &Categorizer{
		config:     config,
		classifier: classifier,
		rules:      rules,
		taxonomy:   rules.Taxonomy(),
		logger:     logger.GetGlobalLogger().WithComponent("categorizer"),
	}, nil
}

// Categorize resolves exactly one result per input record. Suppressed
// group legs and excluded transaction shapes get Source none; the rest
// go through the classifier in bounded batches, with every unresolved
// id falling back to the rule table.
func (c *Categorizer) Categorize(ctx context.Context, records []*models.TransactionRecord, groups []*models.TransactionGroup) []*models.CategorizationResult {
	suppressed := make(map[string]bool, len(groups))
	for _, group := range groups {
		if group.Suppressed != nil {
			suppressed[group.Suppressed.ID] = true
		}
	}

	results := make([]*models.CategorizationResult, 0, len(records))
	resolved := make(map[string]*models.CategorizationResult, len(records))
	var candidates []*models.TransactionRecord

	for _, record := range records {
		if suppressed[record.ID] || isExcluded(record) {
			result := &models.CategorizationResult{
				TransactionID: record.ID,
				Source:        models.SourceNone,
			}
			resolved[record.ID] = result
			continue
		}
		candidates = append(candidates, record)
	}

	for start := 0; start < len(candidates); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		c.classifyBatch(ctx, candidates[start:end], resolved)
	}

	// Every id not resolved by the classifier goes through the rules.
	for _, record := range candidates {
		if _, ok := resolved[record.ID]; !ok {
			resolved[record.ID] = c.rules.Match(record.ID, record.Description)
		}
	}

	for _, record := range records {
		results = append(results, resolved[record.ID])
	}
	return results
}

// classifyBatch attempts one classifier call and records the verdicts
// that survive the shape check. Classifier failure leaves the whole
// batch unresolved; callers of Categorize never see the error.
func (c *Categorizer) classifyBatch(ctx context.Context, batch []*models.TransactionRecord, resolved map[string]*models.CategorizationResult) {
	if c.classifier == nil || len(batch) == 0 {
		return
	}

	request := &ClassifyRequest{Categories: c.taxonomy}
	requested := make(map[string]bool, len(batch))
	for _, record := range batch {
		requested[record.ID] = true
		request.Transactions = append(request.Transactions, ClassifyTransaction{
			ID:          record.ID,
			Description: record.Description,
			Amount:      record.Amount,
			Type:        record.Type.String(),
		})
	}

	verdicts, err := c.classifier.Classify(ctx, request)
	if err != nil {
		c.logger.WithError(err).WithField("batch_size", len(batch)).
			Warn("Classifier unavailable, batch degrades to fallback rules")
		return
	}

	for _, verdict := range verdicts {
		if !c.acceptVerdict(verdict, requested, resolved) {
			continue
		}

		resolved[verdict.ID] = &models.CategorizationResult{
			TransactionID: verdict.ID,
			CategoryID:    verdict.CategoryID,
			SubcategoryID: verdict.SubcategoryID,
			Confidence:    verdict.Confidence,
			Reasoning:     verdict.Reasoning,
			Source:        models.SourceAI,
		}
	}
}

// acceptVerdict is the strict response-shape check. Unknown ids,
// duplicate ids, out-of-range confidence and category ids outside the
// taxonomy are dropped so the record resolves through fallback instead.
func (c *Categorizer) acceptVerdict(verdict ClassifyResult, requested map[string]bool, resolved map[string]*models.CategorizationResult) bool {
	if !requested[verdict.ID] {
		c.logger.WithField("id", verdict.ID).Debug("Classifier returned unknown transaction id")
		return false
	}
	if _, dup := resolved[verdict.ID]; dup {
		return false
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return false
	}
	if !c.taxonomy.HasCategory(verdict.CategoryID) {
		return false
	}
	if !c.taxonomy.HasSubcategory(verdict.CategoryID, verdict.SubcategoryID) {
		return false
	}
	return true
}

func isExcluded(record *models.TransactionRecord) bool {
	// Match on the raw description: normalization strips transfer
	// prefixes, which are exactly the markers looked for here.
	normalized := strings.ToLower(strings.Join(strings.Fields(record.Description), " "))
	for _, marker := range excludedDescriptionMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
