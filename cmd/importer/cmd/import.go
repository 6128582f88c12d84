package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statement-import-service/cmd/importer/config"
	"statement-import-service/internal/categorizer"
	"statement-import-service/internal/jobs"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/models"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/reconciler"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	statementFile    string
	ownerID          string
	accountID        string
	importMode       string
	waitForJob       bool
	statementProfile string
	matchingProfile  string
	storeBackend     string
	mongoURI         string
	mongoDatabase    string
	classifierURL    string
	classifierWait   time.Duration
	subBatchSize     int
	retention        time.Duration
	logLevel         string
	logFormat        string
	logFile          string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bank statement as a background job",
	Long: `Import parses a bank statement export, reconciles it against the
transactions already persisted for the owner and account, categorizes
the batch and commits the result.

The pipeline runs as a background job. With --wait the command
subscribes to job updates, renders progress and exits with the job's
outcome; without it the command prints the job id and returns
immediately.

Examples:
  # Import new transactions only, wait for the result
  importer import --file extrato.csv --owner user-1 --account card-1 --wait

  # Overwrite matched duplicates with incoming values
  importer import --file extrato.csv --owner user-1 --account card-1 \
    --mode update-existing --wait

  # Persist to MongoDB and categorize through an external classifier
  importer import --file extrato.csv --owner user-1 --account card-1 \
    --store mongo --mongo-uri mongodb://localhost:27017 \
    --classifier-url http://classifier:8080 --wait

  # Relaxed matching for statements with shifted settlement dates
  importer import --file extrato.csv --owner user-1 --account card-1 \
    --matching relaxed --wait`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	// Required flags
	importCmd.Flags().StringVarP(&statementFile, "file", "f", "", "path to the statement export (required)")
	importCmd.Flags().StringVarP(&ownerID, "owner", "u", "", "owning user id (required)")
	importCmd.Flags().StringVarP(&accountID, "account", "a", "", "account or card id (required)")

	// Pipeline flags
	importCmd.Flags().StringVarP(&importMode, "mode", "m", string(models.ImportModeNewOnly), "import mode: new-only, update-existing, import-all")
	importCmd.Flags().BoolVarP(&waitForJob, "wait", "w", false, "wait for the job and render progress")
	importCmd.Flags().StringVar(&statementProfile, "statement-profile", "default", "statement format profile")
	importCmd.Flags().StringVar(&matchingProfile, "matching", "default", "matching profile: default, strict, relaxed")

	// Store flags
	importCmd.Flags().StringVar(&storeBackend, "store", "memory", "persistence backend: memory, mongo")
	importCmd.Flags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (required with --store mongo)")
	importCmd.Flags().StringVar(&mongoDatabase, "mongo-database", "", "MongoDB database name")

	// Classifier flags
	importCmd.Flags().StringVar(&classifierURL, "classifier-url", "", "external classifier base URL (empty disables it)")
	importCmd.Flags().DurationVar(&classifierWait, "classifier-timeout", 0, "per-call classifier timeout")

	// Job flags
	importCmd.Flags().IntVar(&subBatchSize, "sub-batch-size", 0, "persistence sub-batch size")
	importCmd.Flags().DurationVar(&retention, "retention", 0, "terminal job retention window")

	// Logging flags
	importCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	importCmd.Flags().StringVar(&logFormat, "log-format", "", "log format: text, json")
	importCmd.Flags().StringVar(&logFile, "log-file", "", "log file path (default: stderr)")

	// Mark required flags
	importCmd.MarkFlagRequired("file")
	importCmd.MarkFlagRequired("owner")
	importCmd.MarkFlagRequired("account")

	// Bind flags to viper
	viper.BindPFlag("file", importCmd.Flags().Lookup("file"))
	viper.BindPFlag("owner", importCmd.Flags().Lookup("owner"))
	viper.BindPFlag("account", importCmd.Flags().Lookup("account"))
	viper.BindPFlag("mode", importCmd.Flags().Lookup("mode"))
	viper.BindPFlag("wait", importCmd.Flags().Lookup("wait"))
	viper.BindPFlag("statement-profile", importCmd.Flags().Lookup("statement-profile"))
	viper.BindPFlag("matching", importCmd.Flags().Lookup("matching"))
	viper.BindPFlag("store", importCmd.Flags().Lookup("store"))
	viper.BindPFlag("mongo-uri", importCmd.Flags().Lookup("mongo-uri"))
	viper.BindPFlag("mongo-database", importCmd.Flags().Lookup("mongo-database"))
	viper.BindPFlag("classifier-url", importCmd.Flags().Lookup("classifier-url"))
	viper.BindPFlag("classifier-timeout", importCmd.Flags().Lookup("classifier-timeout"))
	viper.BindPFlag("sub-batch-size", importCmd.Flags().Lookup("sub-batch-size"))
	viper.BindPFlag("retention", importCmd.Flags().Lookup("retention"))
	viper.BindPFlag("log-level", importCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log-format", importCmd.Flags().Lookup("log-format"))
	viper.BindPFlag("log-file", importCmd.Flags().Lookup("log-file"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	statementFile = viper.GetString("file")
	ownerID = viper.GetString("owner")
	accountID = viper.GetString("account")
	importMode = viper.GetString("mode")
	waitForJob = viper.GetBool("wait")
	statementProfile = viper.GetString("statement-profile")
	matchingProfile = viper.GetString("matching")
	storeBackend = viper.GetString("store")
	mongoURI = viper.GetString("mongo-uri")
	mongoDatabase = viper.GetString("mongo-database")
	classifierURL = viper.GetString("classifier-url")
	classifierWait = viper.GetDuration("classifier-timeout")
	subBatchSize = viper.GetInt("sub-batch-size")
	retention = viper.GetDuration("retention")
	logLevel = viper.GetString("log-level")
	logFormat = viper.GetString("log-format")
	logFile = viper.GetString("log-file")

	if statementFile == "" {
		return fmt.Errorf("file is required")
	}
	if ownerID == "" {
		return fmt.Errorf("owner is required")
	}
	if accountID == "" {
		return fmt.Errorf("account is required")
	}

	if err := validateFileExists(statementFile, "statement file"); err != nil {
		return err
	}

	if _, err := models.ParseImportMode(importMode); err != nil {
		return err
	}

	switch storeBackend {
	case "memory":
	case "mongo":
		if mongoURI == "" {
			return fmt.Errorf("mongo-uri is required with --store mongo")
		}
	default:
		return fmt.Errorf("invalid store backend '%s'. Valid backends: memory, mongo", storeBackend)
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	if err := configureLogging(); err != nil {
		os.Exit(handler.HandleError(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := executeImport(ctx); err != nil {
		os.Exit(handler.HandleError(err))
	}

	return nil
}

func configureLogging() error {
	loggerConfig := config.CreateLoggerConfig(logLevel, logFormat, logFile, viper.GetBool("verbose"))
	log, err := logger.NewLogger(loggerConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", loggerConfig.Level, err)
	}
	logger.SetGlobalLogger(log)
	return nil
}

func executeImport(ctx context.Context) error {
	rawData, err := os.ReadFile(statementFile)
	if err != nil {
		return errors.FileError(errors.CodeFileUnreadable, statementFile, err)
	}

	orchestrator, err := buildOrchestrator(ctx)
	if err != nil {
		return err
	}

	mode, _ := models.ParseImportMode(importMode)
	payload := &models.ImportPayload{
		FileName:  statementFile,
		RawData:   rawData,
		AccountID: accountID,
		Mode:      mode,
	}

	jobID, err := orchestrator.CreateImportJob(ctx, payload, ownerID)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s created\n", jobID)

	if !waitForJob {
		// The process would normally outlive the CLI call in a service
		// deployment; here we let the job run to completion before exit.
		orchestrator.Wait()
		job, err := orchestrator.GetJob(context.Background(), jobID)
		if err != nil {
			return err
		}
		renderOutcome(job)
		return jobError(job)
	}

	return watchJob(ctx, orchestrator, jobID)
}

// buildOrchestrator assembles the pipeline from the configured profiles
// and backends.
func buildOrchestrator(ctx context.Context) (*jobs.Orchestrator, error) {
	statementConfig, err := config.CreateStatementConfig(statementProfile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "statement-profile", statementProfile, err)
	}
	parser, err := parsers.NewStatementParser(statementConfig)
	if err != nil {
		return nil, err
	}

	matcherConfig, err := config.CreateMatcherConfig(matchingProfile)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matchingProfile, err)
	}
	m, err := matcher.NewMatcher(matcherConfig)
	if err != nil {
		return nil, err
	}
	rec, err := reconciler.NewReconciler(m)
	if err != nil {
		return nil, err
	}

	var classifier categorizer.Classifier
	if classifierURL != "" {
		clientConfig := config.CreateClassifierConfig(classifierURL, classifierWait)
		cache := categorizer.NewResponseCache(clientConfig.CacheTTL, nil)
		httpClassifier, err := categorizer.NewHTTPClassifier(clientConfig, nil, cache)
		if err != nil {
			return nil, err
		}
		classifier = httpClassifier
	}
	cat, err := categorizer.NewCategorizer(categorizer.DefaultConfig(), classifier, categorizer.DefaultRuleTable())
	if err != nil {
		return nil, err
	}

	st, err := buildStore(ctx)
	if err != nil {
		return nil, err
	}

	return jobs.NewOrchestrator(config.CreateOrchestratorConfig(subBatchSize, retention), st, parser, rec, cat)
}

func buildStore(ctx context.Context) (store.Store, error) {
	switch storeBackend {
	case "mongo":
		return store.NewMongoStore(ctx, config.CreateMongoConfig(mongoURI, mongoDatabase))
	default:
		return store.NewMemoryStore(), nil
	}
}

// watchJob renders job updates until the job reaches a terminal state.
// An interrupt requests cooperative cancellation and keeps watching; the
// job finishes with whatever partial result was already committed.
func watchJob(ctx context.Context, orchestrator *jobs.Orchestrator, jobID string) error {
	updates, cancel := orchestrator.Subscribe(jobID)
	defer cancel()

	// The subscription exists before this check, so a job that is not
	// yet terminal here is guaranteed to close the channel later.
	job, err := orchestrator.GetJob(context.Background(), jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		renderOutcome(job)
		return jobError(job)
	}

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			fmt.Fprintf(os.Stderr, "\nInterrupt received, cancelling job %s...\n", jobID)
			if err := orchestrator.Cancel(jobID); err != nil {
				return err
			}
			interrupted = nil

		case update, open := <-updates:
			if !open {
				job, err := orchestrator.GetJob(context.Background(), jobID)
				if err != nil {
					return err
				}
				renderOutcome(job)
				return jobError(job)
			}
			renderUpdate(update)
		}
	}
}

func renderUpdate(update models.JobUpdate) {
	if update.Message != "" {
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %s: %s\n", update.Progress, update.Status, update.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "\r[%3d%%] %s", update.Progress, update.Status)
}

func renderOutcome(job *models.BackgroundJob) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Printf("Job %s %s\n", job.ID, job.Status)

	if job.Result != nil {
		fmt.Printf("  Succeeded: %d\n", job.Result.Succeeded)
		fmt.Printf("  Updated:   %d\n", job.Result.Updated)
		fmt.Printf("  Skipped:   %d\n", job.Result.Skipped)
		fmt.Printf("  Failed:    %d\n", job.Result.Failed)
		for _, msg := range job.Result.Errors {
			fmt.Printf("    - %s\n", msg)
		}
	}

	if job.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", job.ErrorMessage)
	}
}

// jobError maps a terminal job to the command's outcome.
func jobError(job *models.BackgroundJob) error {
	switch job.Status {
	case models.JobStatusFailed:
		return errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, job.ErrorMessage).
			WithContext("job_id", job.ID)
	case models.JobStatusCancelled:
		return errors.New(errors.CategoryInternal, errors.CodeCancelled, "import cancelled").
			WithContext("job_id", job.ID)
	default:
		return nil
	}
}
