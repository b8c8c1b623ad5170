package pools_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/stretchr/testify/require"

	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

func testLogger(t *testing.T) *logfx.Logger {
	t.Helper()

	logger, err := logfx.NewLoggerAsDefault(io.Discard, &logfx.Config{Level: "ERROR"})
	require.NoError(t, err)

	return logger
}

func testPoolConfig() *pools.Config {
	return &pools.Config{
		ShardCount:            2,
		MaxInstances:          2,
		WaitQueueLimit:        8,
		AcquireDeadline:       200 * time.Millisecond,
		IdleTimeout:           time.Minute,
		SweepInterval:         25 * time.Millisecond,
		MaxRendersPerInstance: 100,
		MaxInstanceAge:        time.Hour,
		CloseGrace:            time.Second,
	}
}

type fakeEngine struct {
	renderDelay time.Duration
	renderErr   error
	dieOnRender bool

	alive   atomic.Bool
	closed  atomic.Bool
	renders atomic.Int64
}

func newFakeEngine() *fakeEngine {
	engine := &fakeEngine{}
	engine.alive.Store(true)

	return engine
}

func (e *fakeEngine) Render(ctx context.Context, document renders.Document, options renders.Options) (*renders.Output, error) {
	if e.renderDelay > 0 {
		select {
		case <-time.After(e.renderDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if e.dieOnRender {
		e.alive.Store(false)

		return nil, renders.ErrInstanceCrashed
	}

	if e.renderErr != nil {
		return nil, e.renderErr
	}

	e.renders.Add(1)

	return &renders.Output{Data: []byte("%PDF " + document.HTML), PageCount: 1}, nil
}

func (e *fakeEngine) IsAlive() bool {
	return e.alive.Load()
}

func (e *fakeEngine) Close(ctx context.Context) error {
	e.closed.Store(true)
	e.alive.Store(false)

	return nil
}

// fakeFactory builds fakeEngines and remembers every engine it handed out.
type fakeFactory struct {
	mu          sync.Mutex
	buildDelay  time.Duration
	buildErr    error
	renderDelay time.Duration
	renderErr   error
	dieOnRender bool
	engines     []*fakeEngine
}

func (f *fakeFactory) build(ctx context.Context) (pools.Engine, error) {
	f.mu.Lock()
	delay := f.buildDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buildErr != nil {
		return nil, f.buildErr
	}

	engine := newFakeEngine()
	engine.renderDelay = f.renderDelay
	engine.renderErr = f.renderErr
	engine.dieOnRender = f.dieOnRender

	f.engines = append(f.engines, engine)

	return engine, nil
}

func (f *fakeFactory) setBuildErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buildErr = err
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.engines)
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.engines[i]
}

func startManager(t *testing.T, config *pools.Config, factory pools.EngineFactory) *pools.Manager {
	t.Helper()

	manager := pools.NewManager(config, testLogger(t), 0, factory)
	manager.Start(context.Background())

	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = manager.Close(closeCtx)
	})

	return manager
}

func startRegistry(t *testing.T, config *pools.Config, factory pools.EngineFactory) *pools.Registry {
	t.Helper()

	registry, err := pools.NewRegistry(config, testLogger(t), factory)
	require.NoError(t, err)

	registry.Start(context.Background())

	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = registry.Close(closeCtx)
	})

	return registry
}
