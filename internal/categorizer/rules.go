package categorizer

import (
	"strings"

	"statement-import-service/internal/models"
)

// Fallback confidences are fixed constants, not computed.
const (
	// KeywordConfidence is assigned when a fallback rule matches.
	KeywordConfidence = 0.8
	// DefaultConfidence is assigned when no rule matches.
	DefaultConfidence = 0.3
)

// FallbackRule maps description keywords to a category. Rules are
// evaluated in order; the first rule with any matching keyword wins.
type FallbackRule struct {
	Keywords      []string `json:"keywords"`
	CategoryID    string   `json:"category_id"`
	SubcategoryID string   `json:"subcategory_id,omitempty"`
}

// RuleTable is the ordered fallback rule set plus the default category
// used when nothing matches.
type RuleTable struct {
	Rules             []FallbackRule `json:"rules"`
	DefaultCategoryID string         `json:"default_category_id"`
}

// DefaultRuleTable returns the built-in Brazilian-bank rule set.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		DefaultCategoryID: "other",
		Rules: []FallbackRule{
			{Keywords: []string{"supermercado", "mercado", "atacadao", "hortifruti"}, CategoryID: "groceries"},
			{Keywords: []string{"restaurante", "lanchonete", "ifood", "pizzaria", "padaria"}, CategoryID: "food", SubcategoryID: "eating-out"},
			{Keywords: []string{"posto", "combustivel", "gasolina", "estacionamento"}, CategoryID: "transport", SubcategoryID: "car"},
			{Keywords: []string{"uber", "99app", "taxi", "metro", "onibus"}, CategoryID: "transport", SubcategoryID: "ride"},
			{Keywords: []string{"farmacia", "drogaria", "hospital", "clinica", "laboratorio"}, CategoryID: "health"},
			{Keywords: []string{"academia", "smartfit", "crossfit"}, CategoryID: "health", SubcategoryID: "fitness"},
			{Keywords: []string{"netflix", "spotify", "cinema", "steam", "playstation"}, CategoryID: "entertainment"},
			{Keywords: []string{"aluguel", "condominio", "energia", "luz", "agua", "internet", "telefone"}, CategoryID: "housing"},
			{Keywords: []string{"salario", "pagamento salario", "provento"}, CategoryID: "income", SubcategoryID: "salary"},
			{Keywords: []string{"escola", "faculdade", "curso", "livraria"}, CategoryID: "education"},
		},
	}
}

// Match resolves one description against the rule table. It always
// succeeds; absence of any keyword match resolves to the default
// category with low confidence.
func (rt *RuleTable) Match(transactionID, description string) *models.CategorizationResult {
	normalized := models.NormalizeDescription(description)

	for _, rule := range rt.Rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(normalized, strings.ToLower(keyword)) {
				return &models.CategorizationResult{
					TransactionID: transactionID,
					CategoryID:    rule.CategoryID,
					SubcategoryID: rule.SubcategoryID,
					Confidence:    KeywordConfidence,
					Reasoning:     "keyword: " + keyword,
					Source:        models.SourceFallback,
				}
			}
		}
	}

	return &models.CategorizationResult{
		TransactionID: transactionID,
		CategoryID:    rt.DefaultCategoryID,
		Confidence:    DefaultConfidence,
		Source:        models.SourceFallback,
	}
}

// Taxonomy derives the category taxonomy implied by the rule table,
// used as the default taxonomy sent to the classifier.
func (rt *RuleTable) Taxonomy() models.CategoryTaxonomy {
	byCategory := map[string][]models.Subcategory{}
	var order []string

	appendCategory := func(id string) {
		if _, ok := byCategory[id]; !ok {
			byCategory[id] = nil
			order = append(order, id)
		}
	}

	for _, rule := range rt.Rules {
		appendCategory(rule.CategoryID)
		if rule.SubcategoryID != "" {
			byCategory[rule.CategoryID] = append(byCategory[rule.CategoryID], models.Subcategory{
				ID:   rule.SubcategoryID,
				Name: rule.SubcategoryID,
			})
		}
	}
	appendCategory(rt.DefaultCategoryID)

	taxonomy := models.CategoryTaxonomy{}
	for _, id := range order {
		taxonomy.Categories = append(taxonomy.Categories, models.Category{
			ID:            id,
			Name:          id,
			Subcategories: byCategory[id],
		})
	}
	return taxonomy
}
