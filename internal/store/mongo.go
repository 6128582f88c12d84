package store

import (
	"context"
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	transactionsCollection = "transactions"
	jobsCollection         = "jobs"
)

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// DefaultMongoConfig returns a configuration with sensible defaults.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		Database:       "statement_import",
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks if the mongo configuration is valid.
func (c *MongoConfig) Validate() error {
	if c.URI == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "mongo.uri", "", nil)
	}
	if c.Database == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "mongo.database", "", nil)
	}
	return nil
}

// transactionDocument is the BSON shape of one persisted transaction.
type transactionDocument struct {
	StorageID       string    `bson:"_id"`
	RecordID        string    `bson:"recordId"`
	UserID          string    `bson:"userId"`
	AccountID       string    `bson:"accountId"`
	Date            time.Time `bson:"date"`
	Amount          string    `bson:"amount"`
	Type            string    `bson:"type"`
	Description     string    `bson:"description"`
	OriginalDesc    string    `bson:"originalDescription"`
	PaymentMethod   string    `bson:"paymentMethod"`
	CategoryID      string    `bson:"categoryId,omitempty"`
	SubcategoryID   string    `bson:"subcategoryId,omitempty"`
	ImportSessionID string    `bson:"importSessionId,omitempty"`
	UniquenessKey   string    `bson:"uniquenessKey"`
}

// MongoStore is the MongoDB-backed Store. The transactions collection
// carries a unique index on uniquenessKey so duplicate inserts fail per
// record inside an unordered bulk write.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	logger   logger.Logger
}

// NewMongoStore connects to MongoDB and prepares indexes.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, config.URI, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, config.URI, err)
	}

	ms := &MongoStore{
		client:   client,
		database: client.Database(config.Database),
		logger:   logger.GetGlobalLogger().WithComponent("mongo_store"),
	}

	if err := ms.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return ms, nil
}

// Close disconnects the underlying client.
func (ms *MongoStore) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

func (ms *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := ms.database.Collection(transactionsCollection).Indexes()
	_, err := indexes.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uniquenessKey", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreUnreachable, "create indexes", err)
	}

	jobIndexes := ms.database.Collection(jobsCollection).Indexes()
	_, err = jobIndexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreUnreachable, "create indexes", err)
	}
	return nil
}

// Query returns transactions matching the filter, ordered by date then
// storage id.
func (ms *MongoStore) Query(ctx context.Context, filter Filter) ([]*models.PersistedTransaction, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.AccountID != "" {
		query["accountId"] = filter.AccountID
	}

	dateRange := bson.M{}
	if !filter.DateFrom.IsZero() {
		dateRange["$gte"] = filter.DateFrom
	}
	if !filter.DateTo.IsZero() {
		dateRange["$lte"] = filter.DateTo
	}
	if len(dateRange) > 0 {
		query["date"] = dateRange
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := ms.database.Collection(transactionsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, "query transactions", err)
	}
	defer cursor.Close(ctx)

	var results []*models.PersistedTransaction
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.PersistenceError(errors.CodeInvalidData, "decode transaction", err)
		}

		tx, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		results = append(results, tx)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, "iterate transactions", err)
	}

	return results, nil
}

// Upsert applies the batch with per-record outcomes. Inserts go through
// one unordered bulk write so uniqueness violations fail individually;
// updates run as single replacements keyed by storage id.
func (ms *MongoStore) Upsert(ctx context.Context, requests []UpsertRequest) ([]UpsertOutcome, error) {
	outcomes := make([]UpsertOutcome, len(requests))

	var insertModels []mongo.WriteModel
	var insertIdx []int

	for i, req := range requests {
		outcomes[i].RecordID = req.Record.ID

		switch req.Op {
		case OpInsert:
			doc := newTransactionDocument(req, uuid.NewString())
			outcomes[i].StorageID = doc.StorageID
			insertModels = append(insertModels, mongo.NewInsertOneModel().SetDocument(doc))
			insertIdx = append(insertIdx, i)
		case OpUpdate:
			outcomes[i] = ms.applyUpdate(ctx, req)
		default:
			outcomes[i].Err = errors.PersistenceError(errors.CodeInvalidData, string(req.Op), nil)
		}
	}

	if len(insertModels) > 0 {
		collection := ms.database.Collection(transactionsCollection)
		_, err := collection.BulkWrite(ctx, insertModels, options.BulkWrite().SetOrdered(false))
		if err != nil {
			bulkErr, ok := err.(mongo.BulkWriteException)
			if !ok {
				return nil, errors.PersistenceError(errors.CodeStoreUnreachable, "bulk insert", err)
			}
			for _, writeErr := range bulkErr.WriteErrors {
				idx := insertIdx[writeErr.Index]
				if mongo.IsDuplicateKeyError(writeErr.WriteError) {
					outcomes[idx].Err = errors.PersistenceError(errors.CodeUniquenessViolated, requests[idx].Record.ID, writeErr)
				} else {
					outcomes[idx].Err = errors.PersistenceError(errors.CodeInvalidData, requests[idx].Record.ID, writeErr)
				}
				outcomes[idx].StorageID = ""
			}
		}
	}

	return outcomes, nil
}

func (ms *MongoStore) applyUpdate(ctx context.Context, req UpsertRequest) UpsertOutcome {
	outcome := UpsertOutcome{RecordID: req.Record.ID, StorageID: req.TargetID}

	collection := ms.database.Collection(transactionsCollection)

	var current transactionDocument
	err := collection.FindOne(ctx, bson.M{"_id": req.TargetID}).Decode(&current)
	if err != nil {
		outcome.Err = errors.PersistenceError(errors.CodeInvalidData, req.TargetID, err)
		return outcome
	}

	doc := newTransactionDocument(req, req.TargetID)
	doc.UserID = current.UserID
	doc.AccountID = current.AccountID
	doc.UniquenessKey = uniquenessKey(current.UserID, current.AccountID, req.Record)

	_, err = collection.ReplaceOne(ctx, bson.M{"_id": req.TargetID}, doc)
	if err != nil {
		outcome.Err = errors.PersistenceError(errors.CodeInvalidData, req.TargetID, err)
	}
	return outcome
}

func newTransactionDocument(req UpsertRequest, storageID string) transactionDocument {
	return transactionDocument{
		StorageID:       storageID,
		RecordID:        req.Record.ID,
		UserID:          req.UserID,
		AccountID:       req.AccountID,
		Date:            req.Record.Date,
		Amount:          req.Record.Amount.String(),
		Type:            req.Record.Type.String(),
		Description:     req.Record.Description,
		OriginalDesc:    req.Record.OriginalDescription,
		PaymentMethod:   string(req.Record.PaymentMethod),
		CategoryID:      req.CategoryID,
		SubcategoryID:   req.SubcategoryID,
		ImportSessionID: req.ImportSessionID,
		UniquenessKey:   uniquenessKey(req.UserID, req.AccountID, req.Record),
	}
}

func (d *transactionDocument) toModel() (*models.PersistedTransaction, error) {
	amount, err := models.ParseLocalizedDecimal(d.Amount, false)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeInvalidData, d.StorageID, err)
	}

	record := models.TransactionRecord{
		ID:                  d.RecordID,
		Date:                d.Date,
		Amount:              amount,
		Type:                models.TransactionType(d.Type),
		Description:         d.Description,
		OriginalDescription: d.OriginalDesc,
		PaymentMethod:       models.PaymentMethod(d.PaymentMethod),
	}

	return &models.PersistedTransaction{
		TransactionRecord: record,
		StorageID:         d.StorageID,
		UserID:            d.UserID,
		AccountID:         d.AccountID,
		CategoryID:        d.CategoryID,
		SubcategoryID:     d.SubcategoryID,
		ImportSessionID:   d.ImportSessionID,
	}, nil
}

// jobDocument is the BSON shape of one background job.
type jobDocument struct {
	ID           string             `bson:"_id"`
	Type         string             `bson:"type"`
	Status       string             `bson:"status"`
	Progress     int                `bson:"progress"`
	Result       *models.JobResult  `bson:"result,omitempty"`
	ErrorMessage string             `bson:"errorMessage,omitempty"`
	OwnerID      string             `bson:"ownerId"`
	AccountID    string             `bson:"accountId,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
	CompletedAt  *time.Time         `bson:"completedAt,omitempty"`
}

func newJobDocument(job *models.BackgroundJob) jobDocument {
	return jobDocument{
		ID:           job.ID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Progress:     job.Progress,
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		OwnerID:      job.OwnerID,
		AccountID:    job.AccountID,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

func (d *jobDocument) toModel() *models.BackgroundJob {
	return &models.BackgroundJob{
		ID:           d.ID,
		Type:         models.JobType(d.Type),
		Status:       models.JobStatus(d.Status),
		Progress:     d.Progress,
		Result:       d.Result,
		ErrorMessage: d.ErrorMessage,
		OwnerID:      d.OwnerID,
		AccountID:    d.AccountID,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		CompletedAt:  d.CompletedAt,
	}
}

// CreateJob stores a new job.
func (ms *MongoStore) CreateJob(ctx context.Context, job *models.BackgroundJob) error {
	if err := job.Validate(); err != nil {
		return errors.PersistenceError(errors.CodeInvalidData, job.ID, err)
	}

	_, err := ms.database.Collection(jobsCollection).InsertOne(ctx, newJobDocument(job))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.PersistenceError(errors.CodeUniquenessViolated, job.ID, err)
		}
		return errors.PersistenceError(errors.CodeStoreUnreachable, job.ID, err)
	}
	return nil
}

// UpdateJob overwrites an existing job.
func (ms *MongoStore) UpdateJob(ctx context.Context, job *models.BackgroundJob) error {
	result, err := ms.database.Collection(jobsCollection).
		ReplaceOne(ctx, bson.M{"_id": job.ID}, newJobDocument(job))
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreUnreachable, job.ID, err)
	}
	if result.MatchedCount == 0 {
		return errors.PersistenceError(errors.CodeJobNotFound, job.ID, nil)
	}
	return nil
}

// GetJob returns the job with the given id.
func (ms *MongoStore) GetJob(ctx context.Context, jobID string) (*models.BackgroundJob, error) {
	var doc jobDocument
	err := ms.database.Collection(jobsCollection).FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.PersistenceError(errors.CodeJobNotFound, jobID, nil)
	}
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, jobID, err)
	}
	return doc.toModel(), nil
}

// ListJobs returns the jobs for one owner, newest first.
func (ms *MongoStore) ListJobs(ctx context.Context, ownerID string) ([]*models.BackgroundJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := ms.database.Collection(jobsCollection).Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, ownerID, err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.BackgroundJob
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.PersistenceError(errors.CodeInvalidData, "decode job", err)
		}
		jobs = append(jobs, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnreachable, "iterate jobs", err)
	}

	return jobs, nil
}

// DeleteJob removes a job.
func (ms *MongoStore) DeleteJob(ctx context.Context, jobID string) error {
	result, err := ms.database.Collection(jobsCollection).DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		return errors.PersistenceError(errors.CodeStoreUnreachable, jobID, err)
	}
	if result.DeletedCount == 0 {
		return errors.PersistenceError(errors.CodeJobNotFound, jobID, nil)
	}
	return nil
}

// DeleteTerminalJobsBefore removes terminal jobs completed before the
// cutoff.
func (ms *MongoStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":      bson.M{"$in": []string{"completed", "failed", "cancelled"}},
		"completedAt": bson.M{"$lte": cutoff},
	}

	result, err := ms.database.Collection(jobsCollection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeStoreUnreachable, "cleanup jobs", err)
	}
	return int(result.DeletedCount), nil
}

var _ Store = (*MongoStore)(nil)
