package pools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/google/uuid"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

type managerOp any

type acquireOp struct {
	w *waiter
}

type cancelOp struct {
	waiterID string
	removed  chan bool
}

type releaseOp struct {
	record  *InstanceRecord
	outcome ReleaseOutcome
}

type creationDoneOp struct {
	recordID string
	engine   Engine
	err      error
}

type statsOp struct {
	reply chan Stats
}

type closeOp struct {
	ctx   context.Context
	reply chan struct{}
}

type Stats struct {
	Shard             int   `json:"shard"`
	TotalInstances    int   `json:"total_instances"`
	IdleInstances     int   `json:"idle_instances"`
	BusyInstances     int   `json:"busy_instances"`
	StartingInstances int   `json:"starting_instances"`
	QueueDepth        int   `json:"queue_depth"`
	TotalRendered     int64 `json:"total_rendered"`
}

// Manager owns one shard's instances and wait queue. All mutations go
// through its run goroutine, one operation at a time; renders themselves
// happen on caller goroutines with the engine loaned out via a Lease.
type Manager struct {
	config  *Config
	logger  *logfx.Logger
	shard   int
	factory EngineFactory

	ops  chan managerOp
	done chan struct{}

	// Everything below is owned by the run goroutine.
	baseCtx       context.Context
	instances     map[string]*InstanceRecord
	queue         WaitQueue
	policy        RecyclePolicy
	totalRendered int64
	closing       bool
	closeCtx      context.Context
	closeReplies  []chan struct{}
	finished      bool
}

func NewManager(config *Config, logger *logfx.Logger, shard int, factory EngineFactory) *Manager {
	return &Manager{
		config:  config,
		logger:  logger,
		shard:   shard,
		factory: factory,

		ops:  make(chan managerOp),
		done: make(chan struct{}),

		instances: make(map[string]*InstanceRecord),
		policy: RecyclePolicy{
			MaxRenders: config.MaxRendersPerInstance,
			MaxAge:     config.MaxInstanceAge,
		},
	}
}

func (m *Manager) Shard() int {
	return m.shard
}

func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx

	go m.run()
}

// Acquire blocks until an engine is granted, the acquire deadline passes,
// the caller context is done, or the pool closes. Queuing is strict FIFO.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(m.config.AcquireDeadline)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	w := &waiter{
		id:         uuid.NewString(),
		enqueuedAt: time.Now(),
		deadline:   deadline,
		reply:      make(chan acquireReply, 1),
	}

	select {
	case m.ops <- acquireOp{w: w}:
	case <-ctx.Done():
		return nil, acquireCancelError(ctx, w.enqueuedAt)
	case <-m.done:
		return nil, ErrPoolClosed
	}

	select {
	case reply := <-w.reply:
		return reply.lease, reply.err
	case <-ctx.Done():
	}

	// Cancelled while queued. If the manager satisfied the waiter in the
	// meantime, take the reply and hand the engine straight back.
	removed := make(chan bool, 1)

	select {
	case m.ops <- cancelOp{waiterID: w.id, removed: removed}:
		if <-removed {
			return nil, acquireCancelError(ctx, w.enqueuedAt)
		}
	case <-m.done:
	}

	reply := <-w.reply
	if reply.err != nil {
		return nil, reply.err
	}

	reply.lease.Release(ReleaseUnused)

	return nil, acquireCancelError(ctx, w.enqueuedAt)
}

// acquireCancelError classifies a context-ended wait: running out of time is
// a capacity timeout, an explicit cancellation is a lost caller.
func acquireCancelError(ctx context.Context, enqueuedAt time.Time) error {
	cause := context.Cause(ctx)

	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf(
			"%w: no engine available within %s",
			renders.ErrCapacityExceeded,
			time.Since(enqueuedAt).Round(time.Millisecond),
		)
	}

	return fmt.Errorf("%w: %w", renders.ErrConnectionLost, cause)
}

// Stats returns a point-in-time snapshot of the shard.
func (m *Manager) Stats() Stats {
	op := statsOp{reply: make(chan Stats, 1)}

	select {
	case m.ops <- op:
		return <-op.reply
	case <-m.done:
		return Stats{Shard: m.shard}
	}
}

// Close refuses new acquires, fails queued waiters, closes idle instances
// and waits for busy ones to be released, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	reply := make(chan struct{})

	select {
	case m.ops <- closeOp{ctx: ctx, reply: reply}:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool close interrupted: %w", ctx.Err())
	}

	select {
	case <-reply:
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool close interrupted: %w", ctx.Err())
	}
}

func (m *Manager) release(record *InstanceRecord, outcome ReleaseOutcome) {
	select {
	case m.ops <- releaseOp{record: record, outcome: outcome}:
	case <-m.done:
		// The shard is gone; still make sure the engine process dies.
		m.closeEngine(record.Engine)
	}
}

func (m *Manager) run() {
	sweep := time.NewTicker(m.config.SweepInterval)
	defer sweep.Stop()

	deadlineTimer := time.NewTimer(m.config.SweepInterval)
	defer deadlineTimer.Stop()

	for {
		if m.finished {
			for _, reply := range m.closeReplies {
				close(reply)
			}

			close(m.done)

			return
		}

		m.resetDeadlineTimer(deadlineTimer)

		var closeExpired <-chan struct{}
		if m.closing && m.closeCtx != nil {
			closeExpired = m.closeCtx.Done()
		}

		select {
		case op := <-m.ops:
			m.handleOp(op, time.Now())
		case <-sweep.C:
			m.sweepIdle(time.Now())
		case now := <-deadlineTimer.C:
			m.expireWaiters(now)
			m.reconcile(now)
		case <-closeExpired:
			m.logger.Warn("[Pools] Close deadline reached, abandoning busy instances",
				"module", "pools", "shard", m.shard, "abandoned", len(m.instances))

			m.finished = true
		}
	}
}

func (m *Manager) resetDeadlineTimer(timer *time.Timer) {
	next, ok := m.queue.NextDeadline()
	if !ok {
		timer.Reset(m.config.SweepInterval)

		return
	}

	timer.Reset(time.Until(next))
}

func (m *Manager) handleOp(op managerOp, now time.Time) {
	switch op := op.(type) {
	case acquireOp:
		m.handleAcquire(op.w, now)
	case cancelOp:
		op.removed <- m.queue.Remove(op.waiterID)
	case releaseOp:
		m.handleRelease(op.record, op.outcome, now)
	case creationDoneOp:
		m.handleCreationDone(op, now)
	case statsOp:
		op.reply <- m.snapshot()
	case closeOp:
		m.handleClose(op)
	}
}

func (m *Manager) handleAcquire(w *waiter, now time.Time) {
	if m.closing {
		w.reply <- acquireReply{err: ErrPoolClosed}

		return
	}

	if m.queue.Len() >= m.config.WaitQueueLimit {
		w.reply <- acquireReply{err: fmt.Errorf(
			"%w: wait queue is full (%d waiting)",
			renders.ErrCapacityExceeded,
			m.queue.Len(),
		)}

		return
	}

	m.queue.Enqueue(w)
	m.reconcile(now)
}

func (m *Manager) handleRelease(record *InstanceRecord, outcome ReleaseOutcome, now time.Time) {
	if _, ok := m.instances[record.ID]; !ok {
		// Already evicted; still make sure the engine process dies.
		m.closeEngine(record.Engine)

		return
	}

	record.LastUsedAt = now

	switch outcome {
	case ReleaseSuccess:
		record.RenderCount++
		m.totalRendered++
		record.Status = InstanceIdle
	case ReleaseUnused:
		record.Status = InstanceIdle
	case ReleaseCrash:
		record.Status = InstanceCrashed
	}

	retire, reason := m.policy.ShouldRetire(record, now)
	if m.closing && !retire {
		retire, reason = true, "pool closing"
	}

	if retire {
		m.retire(record, reason)
	}

	m.reconcile(now)
	m.maybeFinishClose()
}

func (m *Manager) handleCreationDone(op creationDoneOp, now time.Time) {
	record, ok := m.instances[op.recordID]
	if !ok {
		// Evicted while starting; nothing tracks this engine anymore.
		m.closeEngine(op.engine)

		return
	}

	if op.err != nil {
		delete(m.instances, op.recordID)

		m.logger.Error("[Pools] Engine creation failed",
			"module", "pools", "shard", m.shard, "instance_id", op.recordID, "error", op.err)

		m.failBoundWaiter(op.recordID, op.err)
		m.reconcile(now)
		m.maybeFinishClose()

		return
	}

	record.Engine = op.engine
	record.Status = InstanceIdle
	record.LastUsedAt = now

	if m.closing {
		m.retire(record, "pool closing")
		m.maybeFinishClose()

		return
	}

	m.logger.Debug("[Pools] Engine instance ready",
		"module", "pools", "shard", m.shard, "instance_id", record.ID,
		"startup_time", now.Sub(record.CreatedAt))

	m.reconcile(now)
}

func (m *Manager) handleClose(op closeOp) {
	m.closeReplies = append(m.closeReplies, op.reply)

	if !m.closing {
		m.closing = true
		m.closeCtx = op.ctx

		m.logger.Info("[Pools] Closing shard",
			"module", "pools", "shard", m.shard,
			"instances", len(m.instances), "queued", m.queue.Len())

		for _, w := range m.queue.Drain() {
			w.reply <- acquireReply{err: ErrPoolClosed}
		}

		for _, record := range m.instances {
			if record.Status == InstanceIdle {
				m.retire(record, "pool closing")
			}
		}
	}

	m.maybeFinishClose()
}

// reconcile matches idle instances with queued waiters, then starts engine
// creations for waiters that cannot be served otherwise. Called after every
// state change; keeps the instance count within MaxInstances at all times.
func (m *Manager) reconcile(now time.Time) {
	for m.queue.Len() > 0 {
		idle := m.firstIdle()
		if idle == nil {
			break
		}

		m.grant(idle, m.queue.Dequeue(), now)
	}

	if m.closing {
		return
	}

	starting := m.countStatus(InstanceStarting)
	for len(m.instances) < m.config.MaxInstances && starting < m.queue.Len() {
		if !m.startCreation(now) {
			break
		}

		starting++
	}
}

func (m *Manager) grant(record *InstanceRecord, w *waiter, now time.Time) {
	record.Status = InstanceBusy
	record.LastUsedAt = now

	w.reply <- acquireReply{lease: &Lease{manager: m, record: record}}
}

// startCreation inserts a starting record and launches the factory off the
// actor goroutine. Exactly one creation is started per unbound waiter.
func (m *Manager) startCreation(now time.Time) bool {
	var bound *waiter

	for _, w := range m.queue.Items() {
		if w.creating == "" {
			bound = w

			break
		}
	}

	if bound == nil {
		return false
	}

	record := &InstanceRecord{
		ID:         uuid.NewString(),
		Status:     InstanceStarting,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	m.instances[record.ID] = record
	bound.creating = record.ID

	m.logger.Debug("[Pools] Starting engine instance",
		"module", "pools", "shard", m.shard, "instance_id", record.ID)

	go func() {
		engine, err := m.factory(m.baseCtx)

		select {
		case m.ops <- creationDoneOp{recordID: record.ID, engine: engine, err: err}:
		case <-m.done:
			if engine != nil {
				m.closeEngine(engine)
			}
		}
	}()

	return true
}

func (m *Manager) failBoundWaiter(recordID string, creationErr error) {
	for _, w := range m.queue.Items() {
		if w.creating == recordID {
			m.queue.Remove(w.id)
			w.reply <- acquireReply{err: fmt.Errorf("%w: %w", renders.ErrCreationFailed, creationErr)}

			return
		}
	}
}

func (m *Manager) retire(record *InstanceRecord, reason string) {
	if record.Status != InstanceCrashed {
		record.Status = InstanceRetiring
	}

	delete(m.instances, record.ID)

	m.logger.Info("[Pools] Retiring engine instance",
		"module", "pools", "shard", m.shard, "instance_id", record.ID,
		"reason", reason, "render_count", record.RenderCount,
		"age", time.Since(record.CreatedAt).Round(time.Second))

	m.closeEngine(record.Engine)
}

func (m *Manager) closeEngine(engine Engine) {
	if engine == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.baseCtx), m.config.CloseGrace)
		defer cancel()

		if err := engine.Close(ctx); err != nil {
			m.logger.Warn("[Pools] Engine close failed",
				"module", "pools", "shard", m.shard, "error", err)
		}
	}()
}

func (m *Manager) sweepIdle(now time.Time) {
	for _, record := range m.instances {
		if record.Status != InstanceIdle {
			continue
		}

		if record.IdleFor(now) >= m.config.IdleTimeout {
			m.retire(record, "idle timeout")
		}
	}

	m.expireWaiters(now)
	m.reconcile(now)
}

func (m *Manager) expireWaiters(now time.Time) {
	for _, w := range m.queue.ExpireBefore(now) {
		w.reply <- acquireReply{err: fmt.Errorf(
			"%w: no engine available within %s",
			renders.ErrCapacityExceeded,
			now.Sub(w.enqueuedAt).Round(time.Millisecond),
		)}
	}
}

func (m *Manager) firstIdle() *InstanceRecord {
	for _, record := range m.instances {
		if record.Status == InstanceIdle {
			return record
		}
	}

	return nil
}

func (m *Manager) countStatus(status InstanceStatus) int {
	count := 0

	for _, record := range m.instances {
		if record.Status == status {
			count++
		}
	}

	return count
}

func (m *Manager) snapshot() Stats {
	stats := Stats{
		Shard:          m.shard,
		TotalInstances: len(m.instances),
		QueueDepth:     m.queue.Len(),
		TotalRendered:  m.totalRendered,
	}

	for _, record := range m.instances {
		switch record.Status {
		case InstanceIdle:
			stats.IdleInstances++
		case InstanceBusy:
			stats.BusyInstances++
		case InstanceStarting:
			stats.StartingInstances++
		default:
		}
	}

	return stats
}

func (m *Manager) maybeFinishClose() {
	if m.closing && len(m.instances) == 0 {
		m.finished = true
	}
}
