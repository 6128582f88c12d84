// Package config builds component configurations for the importer CLI
// from flags, environment and optional config file values.
package config

import (
	"fmt"
	"time"

	"statement-import-service/internal/categorizer"
	"statement-import-service/internal/jobs"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/logger"
)

// CreateLoggerConfig builds the logger configuration. Verbose lowers
// the level to debug regardless of the configured level.
func CreateLoggerConfig(level, format, file string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()

	if level != "" {
		config.Level = logger.Level(level)
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(format)
	}
	config.File = file

	return config
}

// CreateStatementConfig returns the parser profile for a named bank
// format. Only the default Brazilian export profile ships today; the
// name is kept so new profiles slot in without CLI changes.
func CreateStatementConfig(profile string) (*parsers.StatementConfig, error) {
	switch profile {
	case "", "default":
		return parsers.DefaultStatementConfig(), nil
	default:
		return nil, fmt.Errorf("unknown statement profile: %s", profile)
	}
}

// CreateMatcherConfig returns the matching profile by name.
func CreateMatcherConfig(profile string) (*matcher.MatcherConfig, error) {
	switch profile {
	case "", "default":
		return matcher.DefaultMatcherConfig(), nil
	case "strict":
		return matcher.StrictMatcherConfig(), nil
	case "relaxed":
		return matcher.RelaxedMatcherConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching profile: %s (valid: default, strict, relaxed)", profile)
	}
}

// CreateClassifierConfig builds the HTTP classifier configuration. An
// empty base URL means the external classifier is disabled and every
// transaction resolves through the fallback rules.
func CreateClassifierConfig(baseURL string, timeout time.Duration) *categorizer.ClientConfig {
	config := categorizer.DefaultClientConfig()
	config.BaseURL = baseURL
	if timeout > 0 {
		config.Timeout = timeout
	}
	return config
}

// CreateMongoConfig builds the MongoDB store configuration.
func CreateMongoConfig(uri, database string) *store.MongoConfig {
	config := store.DefaultMongoConfig()
	config.URI = uri
	if database != "" {
		config.Database = database
	}
	return config
}

// CreateOrchestratorConfig builds the job orchestrator configuration.
func CreateOrchestratorConfig(subBatchSize int, retention time.Duration) *jobs.Config {
	config := jobs.DefaultConfig()
	if subBatchSize > 0 {
		config.SubBatchSize = subBatchSize
	}
	if retention > 0 {
		config.Retention = retention
	}
	return config
}
