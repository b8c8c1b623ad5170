package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/google/uuid"

	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/WarriorSushi/speedstein/pkg/api/business/sessions"
)

const recordTimeout = 5 * time.Second

// Service is the render gateway: it validates calls, resolves their
// dependencies through sessions, dispatches them to the pools, and records
// the outcome. Both the HTTP endpoints and the stream gateway run on it.
type Service struct {
	config       *Config
	renderConfig *renders.Config
	logger       *logfx.Logger

	registry *pools.Registry
	router   *pools.Router
	sessions *sessions.Registry

	jobs  JobStore
	usage UsageSink
}

func NewService(
	config *Config,
	renderConfig *renders.Config,
	logger *logfx.Logger,
	registry *pools.Registry,
	router *pools.Router,
	sessionRegistry *sessions.Registry,
	jobs JobStore,
	usage UsageSink,
) *Service {
	return &Service{
		config:       config,
		renderConfig: renderConfig,
		logger:       logger,

		registry: registry,
		router:   router,
		sessions: sessionRegistry,

		jobs:  jobs,
		usage: usage,
	}
}

// BatchResult carries the outcome of every call in a batch. Each call lands
// in exactly one of the two slices.
type BatchResult struct {
	Results []renders.Result    `json:"results"`
	Errors  []renders.CallError `json:"errors"`
}

// RenderOne runs a single standalone call through an ephemeral session.
func (s *Service) RenderOne(ctx context.Context, identity string, call renders.Call) (*renders.Result, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	session := s.sessions.Open(identity, sessions.ConnectionBatch)
	defer s.sessions.Close(session)

	return s.RunCall(ctx, session, &call)
}

// RenderBatch validates the batch's dependency graph, then runs every call
// concurrently against one ephemeral session. Structural problems reject
// the whole batch; everything after that is a per-call outcome.
func (s *Service) RenderBatch(ctx context.Context, identity string, calls []renders.Call) (*BatchResult, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", renders.ErrValidationFailed)
	}

	if len(calls) > s.config.MaxCallsPerBatch {
		return nil, fmt.Errorf(
			"%w: batch has %d calls, limit is %d",
			renders.ErrValidationFailed,
			len(calls),
			s.config.MaxCallsPerBatch,
		)
	}

	graph, err := buildCallGraph(calls)
	if err != nil {
		return nil, err
	}

	session := s.sessions.Open(identity, sessions.ConnectionBatch)
	defer s.sessions.Close(session)

	indexByID := make(map[string]int, len(calls))
	for i := range calls {
		indexByID[calls[i].ID] = i
	}

	// Register every call before dispatching any, so a call never observes
	// its dependency as unknown just because the other goroutine is late.
	now := time.Now()

	for _, id := range graph.order {
		if err := session.BeginCall(id, now); err != nil {
			return nil, err
		}
	}

	batch := &BatchResult{
		Results: make([]renders.Result, 0, len(calls)),
		Errors:  make([]renders.CallError, 0),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, id := range graph.order {
		call := graph.calls[id]

		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := s.ResolveCall(ctx, session, call)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				batch.Errors = append(batch.Errors, *s.CallError(call.ID, err).WithIndex(indexByID[call.ID]))

				return
			}

			batch.Results = append(batch.Results, *result)
		}()
	}

	wg.Wait()

	return batch, nil
}

// RunCall registers and executes one call against the session. It is the
// shared execution path of the HTTP endpoints and the stream gateway.
func (s *Service) RunCall(ctx context.Context, session *sessions.Session, call *renders.Call) (*renders.Result, error) {
	if call.ID == "" {
		return nil, fmt.Errorf("%w: call id is required", renders.ErrValidationFailed)
	}

	if err := session.BeginCall(call.ID, time.Now()); err != nil {
		return nil, err
	}

	return s.ResolveCall(ctx, session, call)
}

// ResolveCall drives an already-registered call to resolution. Every exit
// path completes the call on the session so dependents never hang. Callers
// that interleave registration and resolution, like the stream gateway, must
// BeginCall in arrival order before resolving concurrently.
func (s *Service) ResolveCall(
	ctx context.Context,
	session *sessions.Session,
	call *renders.Call,
) (*renders.Result, error) {
	startedAt := time.Now()

	if err := renders.ValidateCall(s.renderConfig, call); err != nil {
		return s.finishCall(ctx, session, call, nil, pools.RenderMeta{}, startedAt, err)
	}

	outputs := make(map[string]*renders.Output, len(call.DependsOn))

	for _, dep := range call.DependsOn {
		output, err := session.AwaitDependency(ctx, dep)
		if err != nil {
			return s.finishCall(ctx, session, call, nil, pools.RenderMeta{}, startedAt, err)
		}

		outputs[dep] = output
	}

	document := injectDependencyOutputs(call.Document, outputs)

	output, meta, err := s.dispatch(ctx, session.Identity, call, document)

	return s.finishCall(ctx, session, call, output, meta, startedAt, err)
}

// dispatch routes the call to the pools, retrying once when the engine
// crashed mid-render. Content failures are never retried.
func (s *Service) dispatch(
	ctx context.Context,
	identity string,
	call *renders.Call,
	document renders.Document,
) (*renders.Output, pools.RenderMeta, error) {
	timeout := renders.EffectiveTimeout(s.renderConfig, call.Options)

	var (
		output *renders.Output
		meta   pools.RenderMeta
		err    error
	)

	for attempt := 1; attempt <= s.config.Retry.MaxAttempts; attempt++ {
		output, meta, err = s.router.Render(ctx, identity, document, call.Options, timeout)
		if err == nil || !errors.Is(err, renders.ErrInstanceCrashed) {
			return output, meta, err
		}

		if attempt == s.config.Retry.MaxAttempts {
			break
		}

		s.logger.WarnContext(ctx, "[Gateway] Engine crashed mid-render, retrying call",
			"module", "gateway",
			"call_id", call.ID,
			"attempt", attempt,
			"instance_id", meta.InstanceID)

		if !sleepContext(ctx, s.config.Retry.BackoffPeriod) {
			return nil, meta, fmt.Errorf("%w: %w", renders.ErrConnectionLost, context.Cause(ctx))
		}
	}

	return nil, meta, err
}

// finishCall resolves the call on its session, records the outcome, and
// shapes the caller-facing result.
func (s *Service) finishCall(
	ctx context.Context,
	session *sessions.Session,
	call *renders.Call,
	output *renders.Output,
	meta pools.RenderMeta,
	startedAt time.Time,
	callErr error,
) (*renders.Result, error) {
	session.CompleteCall(call.ID, output, callErr)

	job := &renders.Job{
		JobID:       uuid.NewString(),
		CallID:      call.ID,
		Identity:    session.Identity,
		Status:      renders.JobStatusSucceeded,
		TimingMs:    time.Since(startedAt).Milliseconds(),
		InstanceID:  meta.InstanceID,
		Shard:       meta.Shard,
		Fallback:    meta.Fallback,
		CreatedAt:   startedAt,
		CompletedAt: time.Now(),
	}

	if callErr != nil {
		job.Status = renders.JobStatusFailed
		job.Kind = renders.KindOf(callErr)
		job.Message = callErr.Error()
	} else {
		job.OutputBytes = len(output.Data)
		job.PageCount = output.PageCount
	}

	s.recordOutcome(ctx, job)

	if callErr != nil {
		return nil, callErr
	}

	s.logger.DebugContext(ctx, "[Gateway] Call resolved",
		"module", "gateway",
		"call_id", call.ID,
		"job_id", job.JobID,
		"output_bytes", job.OutputBytes,
		"timing_ms", job.TimingMs,
		"instance_id", meta.InstanceID,
		"fallback", meta.Fallback)

	return &renders.Result{
		CallID:      call.ID,
		JobID:       job.JobID,
		Data:        output.Data,
		PageCount:   output.PageCount,
		OutputBytes: job.OutputBytes,
		TimingMs:    job.TimingMs,
		InstanceID:  meta.InstanceID,
		Fallback:    meta.Fallback,
	}, nil
}

// recordOutcome writes the job record and, on success, the usage record off
// the request path. Bookkeeping failures are logged, never surfaced; the
// write survives the caller's cancellation.
func (s *Service) recordOutcome(ctx context.Context, job *renders.Job) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)

	go func() {
		defer cancel()

		if err := s.jobs.PutRenderJob(recordCtx, job); err != nil {
			s.logger.WarnContext(recordCtx, "[Gateway] Failed to store job record",
				"module", "gateway", "job_id", job.JobID, "error", err)
		}

		if job.Status != renders.JobStatusSucceeded {
			return
		}

		record := &renders.UsageRecord{
			Identity:    job.Identity,
			JobID:       job.JobID,
			OutputBytes: job.OutputBytes,
			TimingMs:    job.TimingMs,
			RenderedAt:  job.CompletedAt,
		}

		if err := s.usage.PublishUsageRecord(recordCtx, record); err != nil {
			s.logger.WarnContext(recordCtx, "[Gateway] Failed to publish usage record",
				"module", "gateway", "job_id", job.JobID, "error", err)
		}
	}()
}

// CallError shapes an error for the wire, attaching the backoff hint when
// the client can usefully wait and retry.
func (s *Service) CallError(callID string, err error) *renders.CallError {
	callErr := renders.NewCallError(callID, err)

	if errors.Is(err, renders.ErrCapacityExceeded) {
		callErr = callErr.WithRetryAfter(s.config.RetryAfterHint)
	}

	return callErr
}

// GetJob looks up the bookkeeping record of a resolved call.
func (s *Service) GetJob(ctx context.Context, jobID string) (*renders.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", renders.ErrValidationFailed)
	}

	job, err := s.jobs.GetRenderJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get render job %q: %w", jobID, err)
	}

	return job, nil
}

// JobQuery narrows a job listing. Zero values mean no filter.
type JobQuery struct {
	Identity string
	Status   string
	Limit    int
}

// ListJobs returns stored job records, newest first, filtered by the query.
func (s *Service) ListJobs(ctx context.Context, query JobQuery) ([]*renders.Job, error) {
	jobs, err := s.jobs.ListRenderJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list render jobs: %w", err)
	}

	filtered := make([]*renders.Job, 0, len(jobs))

	for _, job := range jobs {
		if query.Identity != "" && job.Identity != query.Identity {
			continue
		}

		if query.Status != "" && job.Status != query.Status {
			continue
		}

		filtered = append(filtered, job)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[:query.Limit]
	}

	return filtered, nil
}

// StatsSnapshot is the operational picture served by the stats endpoint.
type StatsSnapshot struct {
	TotalInstances    int           `json:"total_instances"`
	IdleInstances     int           `json:"idle_instances"`
	BusyInstances     int           `json:"busy_instances"`
	StartingInstances int           `json:"starting_instances"`
	QueueDepth        int           `json:"queue_depth"`
	TotalRendered     int64         `json:"total_rendered"`
	CurrentLoad       float64       `json:"current_load"`
	FallbackRenders   int64         `json:"fallback_renders"`
	ActiveSessions    int           `json:"active_sessions"`
	Shards            []pools.Stats `json:"shards"`
}

func (s *Service) Stats() *StatsSnapshot {
	shards := s.registry.Stats()

	snapshot := &StatsSnapshot{Shards: shards}

	for _, shard := range shards {
		snapshot.TotalInstances += shard.TotalInstances
		snapshot.IdleInstances += shard.IdleInstances
		snapshot.BusyInstances += shard.BusyInstances
		snapshot.StartingInstances += shard.StartingInstances
		snapshot.QueueDepth += shard.QueueDepth
		snapshot.TotalRendered += shard.TotalRendered
	}

	if capacity := s.registry.Capacity(); capacity > 0 {
		snapshot.CurrentLoad = float64(snapshot.BusyInstances) / float64(capacity)
	}

	snapshot.FallbackRenders = s.router.Fallbacks()
	snapshot.ActiveSessions = s.sessions.ActiveCount()

	return snapshot
}

func sleepContext(ctx context.Context, period time.Duration) bool {
	timer := time.NewTimer(period)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
