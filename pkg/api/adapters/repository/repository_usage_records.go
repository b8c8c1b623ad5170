package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

var (
	ErrUsageQueueNotBound = errors.New("usage queue is not bound, Init was not called")

	_ gateway.UsageSink = (*Repository)(nil)
)

// PublishUsageRecord sends one billing event to the usage queue. The billing
// pipeline consumes these on its own schedule.
func (r *Repository) PublishUsageRecord(ctx context.Context, record *renders.UsageRecord) error {
	if r.usageQueueURL == "" {
		return ErrUsageQueueNotBound
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to marshal usage record",
			slog.String("module", "repository"),
			slog.String("jobId", record.JobID),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	err = r.sqsQueue.SendMessage(ctx, r.usageQueueURL, string(recordJSON))
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to publish usage record",
			slog.String("module", "repository"),
			slog.String("jobId", record.JobID),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to publish usage record: %w", err)
	}

	return nil
}
