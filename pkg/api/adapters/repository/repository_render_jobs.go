package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

const (
	RenderJobTableName = "render_jobs"
	RenderJobTablePK   = "JobId"
)

var _ gateway.JobStore = (*Repository)(nil)

// GetRenderJob retrieves the bookkeeping record of a render call by its job ID.
func (r *Repository) GetRenderJob(ctx context.Context, jobID string) (*renders.Job, error) {
	r.logger.DebugContext(
		ctx,
		"[Repository] Getting render job",
		slog.String("module", "repository"),
		slog.String("jobId", jobID),
	)

	var job renders.Job
	found, err := r.dynamoDbStore.GetItem(
		ctx,
		RenderJobTableName,
		RenderJobTablePK,
		jobID,
		&job,
	)
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to get render job",
			slog.String("module", "repository"),
			slog.String("jobId", jobID),
			slog.Any("error", err),
		)

		return nil, fmt.Errorf("failed to get render job: %w", err)
	}

	if !found {
		return nil, gateway.ErrJobNotFound
	}

	return &job, nil
}

// ListRenderJobs returns every stored job record. Filtering and ordering are
// the caller's business; the table is small bookkeeping, not an archive.
func (r *Repository) ListRenderJobs(ctx context.Context) ([]*renders.Job, error) {
	r.logger.DebugContext(
		ctx,
		"[Repository] Listing render jobs",
		slog.String("module", "repository"),
	)

	var jobs []*renders.Job

	err := r.dynamoDbStore.ListItems(ctx, RenderJobTableName, &jobs)
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to list render jobs",
			slog.String("module", "repository"),
			slog.Any("error", err),
		)

		return nil, fmt.Errorf("failed to list render jobs: %w", err)
	}

	return jobs, nil
}

// PutRenderJob stores the record of a completed render call.
func (r *Repository) PutRenderJob(ctx context.Context, job *renders.Job) error {
	r.logger.DebugContext(
		ctx,
		"[Repository] Putting render job",
		slog.String("module", "repository"),
		slog.String("jobId", job.JobID),
		slog.String("status", job.Status),
	)

	err := r.dynamoDbStore.UpsertItem(ctx, RenderJobTableName, job)
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"[Repository] Failed to put render job",
			slog.String("module", "repository"),
			slog.String("jobId", job.JobID),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to put render job: %w", err)
	}

	return nil
}
