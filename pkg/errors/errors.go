// Package errors defines the typed error taxonomy used across the import
// pipeline. Errors carry a category, a specific code, optional context and
// a suggestion, so callers can route them (abort vs collect vs degrade)
// and operators can act on them.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryCategorization ErrorCategory = "categorization"
	CategoryPersistence    ErrorCategory = "persistence"
	CategoryNetwork        ErrorCategory = "network"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories.
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFileUnreadable ErrorCode = "file_unreadable"

	// Parse errors. Structural codes abort the whole file; row codes are
	// collected and the batch continues.
	CodeMissingHeader  ErrorCode = "missing_header"
	CodeEncodingError  ErrorCode = "encoding_error"
	CodeNoTransactions ErrorCode = "no_transactions"
	CodeInvalidAmount  ErrorCode = "invalid_amount"
	CodeInvalidDate    ErrorCode = "invalid_date"
	CodeMissingField   ErrorCode = "missing_field"

	// Validation errors
	CodeInvalidData ErrorCode = "invalid_data"
	CodeOutOfRange  ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Categorization errors
	CodeClassifierUnavailable ErrorCode = "classifier_unavailable"
	CodeMalformedResponse     ErrorCode = "malformed_response"

	// Persistence errors
	CodeStoreUnreachable   ErrorCode = "store_unreachable"
	CodeUniquenessViolated ErrorCode = "uniqueness_violated"
	CodeJobConflict        ErrorCode = "job_conflict"
	CodeJobNotFound        ErrorCode = "job_not_found"

	// Network errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeTimeout            ErrorCode = "timeout"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeAuthentication     ErrorCode = "authentication"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// PipelineError is the base error type for all application errors.
type PipelineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error.
func (e *PipelineError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryCategorization, CategoryInternal:
		return 5
	case CategoryNetwork, CategoryPersistence:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error.
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError.
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with PipelineError context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// FileError creates a file-related error.
func FileError(code ErrorCode, name string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", name)
		suggestion = "check that the file path is correct and the file exists"
	case CodeFileUnreadable:
		message = fmt.Sprintf("file could not be read: %s", name)
		suggestion = "verify the file is accessible and not corrupted"
	default:
		message = fmt.Sprintf("file error: %s", name)
		suggestion = "check the file and try again"
	}

	result := wrapOrNew(err, CategoryFile, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("file", name)
}

// ParseError creates a structural parsing error. Structural errors abort
// the whole file; per-row problems use RowError instead.
func ParseError(code ErrorCode, detail string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeMissingHeader:
		message = fmt.Sprintf("statement header is missing required columns: %s", detail)
		suggestion = "export the statement again with all expected columns"
	case CodeEncodingError:
		message = fmt.Sprintf("statement encoding could not be normalized: %s", detail)
		suggestion = "save the file in UTF-8 encoding and try again"
	case CodeNoTransactions:
		message = "no transactions found in the statement"
		suggestion = "check that the file contains data rows below the header"
	default:
		message = fmt.Sprintf("parse error: %s", detail)
		suggestion = "check the statement format"
	}

	result := wrapOrNew(err, CategoryParse, code, message)
	return result.WithSuggestion(suggestion).WithContext("detail", detail)
}

// ValidationError creates a validation-related error.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are decimal numbers like '45,80' or '45.80'"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use the statement date format, e.g. 02/01/2024"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	result := wrapOrNew(err, CategoryValidation, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	result := wrapOrNew(err, CategoryConfiguration, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// CategorizationError creates a categorization-related error. These are
// never fatal for a job: the engine degrades to the fallback rule table.
func CategorizationError(code ErrorCode, detail string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeClassifierUnavailable:
		message = fmt.Sprintf("external classifier unavailable: %s", detail)
		suggestion = "fallback categorization was applied; retry later for classifier results"
	case CodeMalformedResponse:
		message = fmt.Sprintf("classifier returned a malformed response: %s", detail)
		suggestion = "affected transactions were resolved by fallback rules"
	default:
		message = fmt.Sprintf("categorization error: %s", detail)
		suggestion = "fallback categorization was applied"
	}

	result := wrapOrNew(err, CategoryCategorization, code, message)
	return result.WithSuggestion(suggestion).WithContext("detail", detail)
}

// PersistenceError creates a persistence-related error.
func PersistenceError(code ErrorCode, detail string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeStoreUnreachable:
		message = fmt.Sprintf("persistence store unreachable: %s", detail)
		suggestion = "check store connectivity; the job was aborted"
	case CodeUniquenessViolated:
		message = fmt.Sprintf("record violates a uniqueness constraint: %s", detail)
		suggestion = "the record already exists; use update-existing mode to overwrite it"
	case CodeJobConflict:
		message = fmt.Sprintf("another import job is already active: %s", detail)
		suggestion = "wait for the active job to finish before starting a new import"
	case CodeJobNotFound:
		message = fmt.Sprintf("job not found: %s", detail)
		suggestion = "the job may have been cleaned up after its retention window"
	default:
		message = fmt.Sprintf("persistence error: %s", detail)
		suggestion = "check the store and try again"
	}

	result := wrapOrNew(err, CategoryPersistence, code, message)
	return result.WithSuggestion(suggestion).WithContext("detail", detail)
}

// NetworkError creates a network-related error.
func NetworkError(code ErrorCode, endpoint string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	case CodeTimeout:
		message = fmt.Sprintf("timeout calling %s", endpoint)
		suggestion = "increase the timeout setting or check network speed"
	case CodeServiceUnavailable:
		message = fmt.Sprintf("service unavailable: %s", endpoint)
		suggestion = "try again later or contact the service administrator"
	case CodeAuthentication:
		message = fmt.Sprintf("authentication rejected by %s", endpoint)
		suggestion = "check the configured credentials"
	default:
		message = fmt.Sprintf("network error: %s", endpoint)
		suggestion = "check the network connection and try again"
	}

	result := wrapOrNew(err, CategoryNetwork, code, message)
	return result.WithSuggestion(suggestion).WithContext("endpoint", endpoint)
}

// InternalError creates an internal error.
func InternalError(code ErrorCode, operation string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s was cancelled", operation)
		suggestion = "partial results committed before cancellation are preserved"
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	}

	result := wrapOrNew(err, CategoryInternal, code, message)
	return result.WithSuggestion(suggestion).WithContext("operation", operation)
}

func wrapOrNew(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// IsRetryable reports whether the error represents a transient condition
// worth retrying with backoff. Validation and authentication failures are
// never retryable.
func IsRetryable(err error) bool {
	pipelineErr, ok := AsPipelineError(err)
	if !ok {
		return false
	}

	switch pipelineErr.Code {
	case CodeConnectionFailed, CodeTimeout, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// ErrorSummary provides a summary of multiple errors.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*PipelineError      `json:"errors"`
}

// NewErrorSummary creates a new error summary.
func NewErrorSummary(errs []*PipelineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary.
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category.
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// IsPipelineError checks if an error is a PipelineError.
func IsPipelineError(err error) bool {
	_, ok := err.(*PipelineError)
	return ok
}

// AsPipelineError extracts a PipelineError from an error chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	pipelineErr, ok := AsPipelineError(err)
	return ok && pipelineErr.Code == code
}
