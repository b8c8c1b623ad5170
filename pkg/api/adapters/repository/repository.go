package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/dynamodb_store"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/sqs_queue"
	"github.com/eser/ajan/logfx"
)

// Repository fronts the persistence adapters for the rest of the service.
// Render job records live in DynamoDb, usage records go out through SQS.
type Repository struct {
	logger        *logfx.Logger
	dynamoDbStore *dynamodb_store.Store
	sqsQueue      *sqs_queue.Queue

	usageQueueURL string
}

func New(logger *logfx.Logger, dynamoDbStore *dynamodb_store.Store, sqsQueue *sqs_queue.Queue) *Repository {
	return &Repository{
		logger:        logger,
		dynamoDbStore: dynamoDbStore,
		sqsQueue:      sqsQueue,
	}
}

func (r *Repository) ensureDynamoDbExists(ctx context.Context, tableName string, tablePK string) error {
	if err := r.dynamoDbStore.EnsureTableExists(ctx, tableName, tablePK); err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to ensure DynamoDb table exists",
			slog.String("module", "repository"),
			slog.String("tableName", tableName),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to ensure DynamoDb table %s exists: %w", tableName, err)
	}

	return nil
}

// Init ensures the render job table exists and binds the usage queue URL
// obtained from the SQS adapter's own initialization.
func (r *Repository) Init(ctx context.Context, usageQueueURL string) error {
	if err := r.ensureDynamoDbExists(ctx, RenderJobTableName, RenderJobTablePK); err != nil {
		return err
	}

	r.usageQueueURL = usageQueueURL

	return nil
}
