package cmd

import (
	"fmt"
	"os"
	"strings"

	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError handles errors and provides user-friendly messages
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if pipelineErr, ok := errors.AsPipelineError(err); ok {
		return h.handlePipelineError(pipelineErr)
	}

	return h.handleGenericError(err)
}

// handlePipelineError handles PipelineError with detailed context
func (h *CLIErrorHandler) handlePipelineError(err *errors.PipelineError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-PipelineError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if h.verbose {
		fmt.Fprintf(os.Stderr, "\nFor more details, check the logs or run with --verbose flag\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the statement file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the statement export format and column headers
• Check that amounts use the expected decimal separator
• Ensure dates follow the dd/mm/yyyy statement format
• Use 'importer import --help' for examples of correct formats`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Verify the import mode is new-only, update-existing or import-all
• Ensure owner and account ids are provided`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'importer import --help' to see all available options
• Try running with default settings first`

	case errors.CategoryCategorization:
		return `Categorization error help:
• Check that the classifier service is reachable
• Transactions still import with keyword-based categories when the
  classifier is unavailable
• Retry later or run without --classifier-url`

	case errors.CategoryPersistence, errors.CategoryNetwork:
		return `Persistence error help:
• Check that the configured store is reachable
• Verify the MongoDB URI and database name
• A conflicting running job must finish or be cancelled first`

	default:
		return `For more help:
• Use 'importer --help' for general help
• Use 'importer import --help' for command-specific help
• Run with --verbose for detailed error information`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
