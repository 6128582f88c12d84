// Package parsers turns raw statement exports into canonical transaction
// records. A structural problem (missing header, unreadable input) aborts
// the whole file; a bad row is collected as a RowError and the batch
// continues.
package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/google/uuid"
)

// Parsing reserves the final ten percent of the progress range for
// post-parse validation (id remapping, empty-batch check).
const (
	parseProgressCeiling = 90
	progressComplete     = 100
)

// RowError describes one statement line that could not be turned into a
// valid record. Row errors never abort the batch.
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d (%s='%s'): %s", e.Line, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IDRemap records one deterministic id regeneration performed by the
// duplicate-id pre-pass.
type IDRemap struct {
	Line       int    `json:"line"`
	OriginalID string `json:"originalId"`
	NewID      string `json:"newId"`
}

// ParseResult bundles the outcome of parsing one statement.
type ParseResult struct {
	Records   []*models.TransactionRecord `json:"records"`
	RowErrors []*RowError                 `json:"rowErrors,omitempty"`
	Remapped  []IDRemap                   `json:"remapped,omitempty"`
}

// ProgressFunc receives parse progress in percent, 0 through 100.
type ProgressFunc func(percent int)

// StatementParser parses delimited statement text for one bank profile.
type StatementParser struct {
	config *StatementConfig
	logger logger.Logger
}

// NewStatementParser creates a parser for the given profile.
func NewStatementParser(config *StatementConfig) (*StatementParser, error) {
	if config == nil {
		config = DefaultStatementConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"statement_parser_config",
			config.Name,
			err,
		)
	}

	return &StatementParser{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("statement_parser"),
	}, nil
}

// Parse parses a full statement export.
func (sp *StatementParser) Parse(raw []byte) (*ParseResult, error) {
	return sp.ParseWithProgress(raw, nil)
}

// ParseWithProgress parses a statement and reports incremental progress
// as a fraction of bytes consumed, scaled to 0-90. The final stretch to
// 100 covers post-parse validation.
func (sp *StatementParser) ParseWithProgress(raw []byte, progress ProgressFunc) (*ParseResult, error) {
	if progress == nil {
		progress = func(int) {}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.ParseError(errors.CodeNoTransactions, "statement is empty", nil)
	}

	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM

	counting := &countingReader{reader: bytes.NewReader(raw)}
	reader := csv.NewReader(counting)
	reader.Comma = sp.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	columns, err := sp.readHeader(reader)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	line := 1 // header consumed

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++

		if err != nil {
			result.RowErrors = append(result.RowErrors, &RowError{
				Line:    line,
				Message: "malformed row",
				Err:     err,
			})
			continue
		}

		if isEmptyRow(record) {
			continue
		}

		parsed, rowErr := sp.parseRow(record, columns, line)
		if rowErr != nil {
			result.RowErrors = append(result.RowErrors, rowErr)
		} else {
			result.Records = append(result.Records, parsed)
		}

		progress(int(float64(counting.consumed) / float64(len(raw)) * parseProgressCeiling))
	}

	progress(parseProgressCeiling)

	// Post-parse validation: deterministic id remap, then the empty-batch
	// check. Zero valid rows is an explicit condition, not empty success.
	result.Remapped = remapDuplicateIDs(result.Records)

	if len(result.Records) == 0 {
		return nil, errors.ParseError(errors.CodeNoTransactions, "", nil).
			WithContext("row_errors", len(result.RowErrors))
	}

	progress(progressComplete)

	sp.logger.WithFields(logger.Fields{
		"profile":    sp.config.Name,
		"records":    len(result.Records),
		"row_errors": len(result.RowErrors),
		"remapped":   len(result.Remapped),
	}).Info("Statement parsing completed")

	return result, nil
}

// readHeader validates that the header row is a superset of the expected
// headers and returns the canonical column index map. A failure here is
// structural and aborts the whole file.
func (sp *StatementParser) readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.ParseError(errors.CodeNoTransactions, "statement has no header row", nil)
		}
		return nil, errors.ParseError(errors.CodeEncodingError, "header row could not be read", err)
	}

	index := make(map[string]int, len(header))
	for i, cell := range header {
		index[NormalizeHeader(cell)] = i
	}

	var missing []string
	for _, expected := range sp.config.ExpectedHeaders {
		if _, ok := index[NormalizeHeader(expected)]; !ok {
			missing = append(missing, expected)
		}
	}
	if len(missing) > 0 {
		return nil, errors.ParseError(errors.CodeMissingHeader, strings.Join(missing, ", "), nil).
			WithContext("found_headers", header)
	}

	columns := map[string]int{
		"date":        index[NormalizeHeader(sp.config.DateColumn)],
		"amount":      index[NormalizeHeader(sp.config.AmountColumn)],
		"id":          index[NormalizeHeader(sp.config.IDColumn)],
		"description": index[NormalizeHeader(sp.config.DescriptionColumn)],
	}
	return columns, nil
}

// parseRow converts one data row into a TransactionRecord.
func (sp *StatementParser) parseRow(record []string, columns map[string]int, line int) (*models.TransactionRecord, *RowError) {
	field := func(name string) (string, bool) {
		idx := columns[name]
		if idx >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[idx]), true
	}

	for _, name := range []string{"date", "amount", "id", "description"} {
		value, ok := field(name)
		if !ok || value == "" {
			return nil, &RowError{
				Line:    line,
				Field:   name,
				Message: "required field is missing or empty",
			}
		}
	}

	dateStr, _ := field("date")
	date, err := models.ParseStatementDate(dateStr, sp.config.DateLayout)
	if err != nil {
		return nil, &RowError{Line: line, Field: "date", Value: dateStr, Message: "invalid date", Err: err}
	}

	amountStr, _ := field("amount")
	amount, err := models.ParseLocalizedDecimal(amountStr, sp.config.CommaDecimal)
	if err != nil {
		return nil, &RowError{Line: line, Field: "amount", Value: amountStr, Message: "invalid amount", Err: err}
	}

	id, _ := field("id")
	description, _ := field("description")

	parsed := models.NewTransactionRecord(id, date, amount, description)
	if err := parsed.Validate(); err != nil {
		return nil, &RowError{Line: line, Message: "invalid record", Err: err}
	}

	return parsed, nil
}

// remapDuplicateIDs regenerates ids that collide within the batch. The
// first occurrence keeps its id; later occurrences receive a
// name-based UUID derived from the original id and the collision
// ordinal, so reruns over the same file produce the same remapping.
func remapDuplicateIDs(records []*models.TransactionRecord) []IDRemap {
	seen := make(map[string]int, len(records))
	var remapped []IDRemap

	for i, record := range records {
		count := seen[record.ID]
		seen[record.ID] = count + 1
		if count == 0 {
			continue
		}

		original := record.ID
		newID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", original, count))).String()
		record.ID = newID
		seen[newID]++

		remapped = append(remapped, IDRemap{
			Line:       i + 2, // header is line 1
			OriginalID: original,
			NewID:      newID,
		})
	}

	return remapped
}

func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// countingReader tracks bytes consumed so parse progress can follow the
// input position instead of waiting for end-of-file.
type countingReader struct {
	reader   io.Reader
	consumed int
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.reader.Read(p)
	cr.consumed += n
	return n, err
}
