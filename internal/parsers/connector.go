package parsers

import (
	"encoding/json"
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ConnectorEntry is one transaction as delivered by a bank-aggregation
// feed. Unlike statement exports these arrive pre-structured, so the
// adapter only has to map fields, not fight encodings.
type ConnectorEntry struct {
	Reference   string          `json:"reference"`
	ValueDate   string          `json:"value_date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// ConnectorFeed is the payload of one aggregation pull.
type ConnectorFeed struct {
	Entries []ConnectorEntry `json:"transactions"`
}

// Connector dates use ISO calendar form.
const connectorDateLayout = "2006-01-02"

// ParseConnectorFeed decodes a JSON aggregation payload into canonical
// records. Bad entries are reported as row errors, mirroring statement
// parsing so downstream stages see one contract.
func ParseConnectorFeed(raw []byte) (*ParseResult, error) {
	var feed ConnectorFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, errors.ParseError(errors.CodeEncodingError, "connector feed is not valid JSON", err)
	}

	result := &ParseResult{}
	for i, entry := range feed.Entries {
		record, rowErr := entry.toRecord(i + 1)
		if rowErr != nil {
			result.RowErrors = append(result.RowErrors, rowErr)
			continue
		}
		result.Records = append(result.Records, record)
	}

	result.Remapped = remapDuplicateIDs(result.Records)

	if len(result.Records) == 0 {
		return nil, errors.ParseError(errors.CodeNoTransactions, "", nil).
			WithContext("row_errors", len(result.RowErrors))
	}

	return result, nil
}

func (e ConnectorEntry) toRecord(position int) (*models.TransactionRecord, *RowError) {
	if e.Reference == "" {
		return nil, &RowError{Line: position, Field: "reference", Message: "required field is missing or empty"}
	}

	date, err := time.Parse(connectorDateLayout, e.ValueDate)
	if err != nil {
		return nil, &RowError{Line: position, Field: "value_date", Value: e.ValueDate, Message: "invalid date", Err: err}
	}
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	record := models.NewTransactionRecord(e.Reference, date, e.Amount, e.Description)
	if err := record.Validate(); err != nil {
		return nil, &RowError{Line: position, Message: "invalid record", Err: err}
	}

	return record, nil
}
