package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestConstructorsSetCategoryAndCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		category ErrorCategory
		code     ErrorCode
	}{
		{"file", FileError(CodeFileNotFound, "extrato.csv", nil), CategoryFile, CodeFileNotFound},
		{"parse", ParseError(CodeMissingHeader, "Valor", nil), CategoryParse, CodeMissingHeader},
		{"validation", ValidationError(CodeInvalidAmount, "amount", "abc", nil), CategoryValidation, CodeInvalidAmount},
		{"configuration", ConfigurationError(CodeMissingConfig, "mongo.uri", "", nil), CategoryConfiguration, CodeMissingConfig},
		{"categorization", CategorizationError(CodeClassifierUnavailable, "batch 1", nil), CategoryCategorization, CodeClassifierUnavailable},
		{"persistence", PersistenceError(CodeJobConflict, "job-1", nil), CategoryPersistence, CodeJobConflict},
		{"network", NetworkError(CodeTimeout, "http://classifier", nil), CategoryNetwork, CodeTimeout},
		{"internal", InternalError(CodeCancelled, "import", nil), CategoryInternal, CodeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("message must not be empty")
			}
			if tt.err.Suggestion == "" {
				t.Error("suggestion must not be empty")
			}
		})
	}
}

func TestErrorIncludesSuggestion(t *testing.T) {
	err := New(CategoryParse, CodeNoTransactions, "no transactions found").
		WithSuggestion("check the file")

	if !strings.Contains(err.Error(), "no transactions found") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !strings.Contains(err.Error(), "check the file") {
		t.Errorf("Error() must include the suggestion, got %q", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NetworkError(CodeConnectionFailed, "http://classifier", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap must return the original cause")
	}
	if err.StackTrace == nil {
		t.Error("wrapped errors must carry a stack trace")
	}
}

func TestWithContext(t *testing.T) {
	err := PersistenceError(CodeJobConflict, "job-1", nil).
		WithContext("owner_id", "user-1").
		WithContext("account_id", "card-1")

	if err.Context["owner_id"] != "user-1" || err.Context["account_id"] != "card-1" {
		t.Errorf("context = %v", err.Context)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     int
	}{
		{CategoryFile, 2},
		{CategoryParse, 3},
		{CategoryValidation, 3},
		{CategoryConfiguration, 4},
		{CategoryCategorization, 5},
		{CategoryInternal, 5},
		{CategoryNetwork, 6},
		{CategoryPersistence, 6},
	}

	for _, tt := range tests {
		err := New(tt.category, CodeUnexpectedError, "test")
		if got := err.GetExitCode(); got != tt.want {
			t.Errorf("GetExitCode(%s) = %d, want %d", tt.category, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []*PipelineError{
		NetworkError(CodeConnectionFailed, "endpoint", nil),
		NetworkError(CodeTimeout, "endpoint", nil),
		NetworkError(CodeServiceUnavailable, "endpoint", nil),
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("%s must be retryable", err.Code)
		}
	}

	notRetryable := []error{
		NetworkError(CodeAuthentication, "endpoint", nil),
		ValidationError(CodeInvalidData, "mode", "bad", nil),
		CategorizationError(CodeMalformedResponse, "body", nil),
		fmt.Errorf("plain error"),
		nil,
	}
	for _, err := range notRetryable {
		if IsRetryable(err) {
			t.Errorf("%v must not be retryable", err)
		}
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := PersistenceError(CodeUniquenessViolated, "tx-1", nil)
	outer := fmt.Errorf("batch failed: %w", inner)

	if !HasCode(outer, CodeUniquenessViolated) {
		t.Error("HasCode must see through wrapping")
	}
	if HasCode(outer, CodeJobConflict) {
		t.Error("HasCode matched the wrong code")
	}
	if HasCode(fmt.Errorf("plain"), CodeUniquenessViolated) {
		t.Error("plain errors carry no code")
	}
}

func TestAsPipelineError(t *testing.T) {
	inner := ParseError(CodeNoTransactions, "", nil)
	wrapped := fmt.Errorf("import failed: %w", inner)

	got, ok := AsPipelineError(wrapped)
	if !ok || got.Code != CodeNoTransactions {
		t.Errorf("AsPipelineError = %v, %v", got, ok)
	}

	if _, ok := AsPipelineError(fmt.Errorf("plain")); ok {
		t.Error("plain error must not convert")
	}
}

func TestErrorSummary(t *testing.T) {
	summary := NewErrorSummary([]*PipelineError{
		ParseError(CodeMissingHeader, "Valor", nil),
		ParseError(CodeEncodingError, "row 3", nil),
		PersistenceError(CodeUniquenessViolated, "tx-1", nil),
	})

	if summary.Total != 3 {
		t.Errorf("total = %d, want 3", summary.Total)
	}
	if summary.ByCategory[CategoryParse] != 2 {
		t.Errorf("parse count = %d, want 2", summary.ByCategory[CategoryParse])
	}
	if !summary.HasCategory(CategoryPersistence) {
		t.Error("persistence category missing")
	}
	if summary.HasCategory(CategoryNetwork) {
		t.Error("network category must be absent")
	}
	if !strings.Contains(summary.Error(), "3 errors") {
		t.Errorf("summary message = %q", summary.Error())
	}

	empty := NewErrorSummary(nil)
	if empty.Error() != "no errors" {
		t.Errorf("empty summary = %q", empty.Error())
	}

	single := NewErrorSummary([]*PipelineError{ParseError(CodeNoTransactions, "", nil)})
	if !strings.Contains(single.Error(), "no transactions") {
		t.Errorf("single summary = %q", single.Error())
	}
}
