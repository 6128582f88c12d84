package parsers

import (
	"fmt"
	"strings"
	"unicode"
)

// StatementConfig describes the shape of one bank's statement export:
// which headers are expected, how amounts and dates are written, and
// which column feeds each canonical field.
type StatementConfig struct {
	// Name identifies the bank profile, used only for logging.
	Name string `json:"name"`

	// ExpectedHeaders are the columns a statement must carry. The file
	// header must be a superset of this list after normalization.
	ExpectedHeaders []string `json:"expected_headers"`

	// Column names for each canonical field.
	DateColumn        string `json:"date_column"`
	AmountColumn      string `json:"amount_column"`
	IDColumn          string `json:"id_column"`
	DescriptionColumn string `json:"description_column"`

	// Delimiter separates fields, comma by default.
	Delimiter rune `json:"delimiter"`

	// CommaDecimal selects the locale: true means comma is the decimal
	// separator and dot groups thousands ("1.234,56").
	CommaDecimal bool `json:"comma_decimal"`

	// DateLayout is the Go layout of statement dates, dd/mm/yyyy by
	// default.
	DateLayout string `json:"date_layout"`
}

// DefaultStatementConfig returns the profile for the common Brazilian
// bank export format (Data, Valor, Identificador, Descrição).
func DefaultStatementConfig() *StatementConfig {
	return &StatementConfig{
		Name:              "default",
		ExpectedHeaders:   []string{"Data", "Valor", "Identificador", "Descrição"},
		DateColumn:        "Data",
		AmountColumn:      "Valor",
		IDColumn:          "Identificador",
		DescriptionColumn: "Descrição",
		Delimiter:         ',',
		CommaDecimal:      true,
		DateLayout:        "02/01/2006",
	}
}

// Validate checks if the statement configuration is valid.
func (c *StatementConfig) Validate() error {
	if len(c.ExpectedHeaders) == 0 {
		return fmt.Errorf("expected headers cannot be empty")
	}

	for _, column := range []string{c.DateColumn, c.AmountColumn, c.IDColumn, c.DescriptionColumn} {
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("all canonical column names must be configured")
		}
	}

	if c.Delimiter == 0 {
		return fmt.Errorf("delimiter cannot be zero")
	}

	if c.DateLayout == "" {
		return fmt.Errorf("date layout cannot be empty")
	}

	return nil
}

// Clone creates a copy of the statement configuration.
func (c *StatementConfig) Clone() *StatementConfig {
	if c == nil {
		return nil
	}

	clone := *c
	clone.ExpectedHeaders = append([]string(nil), c.ExpectedHeaders...)
	return &clone
}

// NormalizeHeader folds a header cell down to lowercase letters and
// digits. Mis-decoded accented characters reduce to the same fold as the
// correctly decoded header, so "Descrição" matches its mangled exports.
func NormalizeHeader(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(header)) {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
