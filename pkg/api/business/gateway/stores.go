package gateway

import (
	"context"
	"errors"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists the bookkeeping record of each completed call.
type JobStore interface {
	PutRenderJob(ctx context.Context, job *renders.Job) error
	GetRenderJob(ctx context.Context, jobID string) (*renders.Job, error)
	ListRenderJobs(ctx context.Context) ([]*renders.Job, error)
}

// UsageSink receives one usage record per successful render for billing.
type UsageSink interface {
	PublishUsageRecord(ctx context.Context, record *renders.UsageRecord) error
}
