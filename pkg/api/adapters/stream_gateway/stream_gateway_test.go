package stream_gateway_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/engine"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/stream_gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/WarriorSushi/speedstein/pkg/api/business/sessions"
)

const eventually = 2 * time.Second

func testLogger(t *testing.T) *logfx.Logger {
	t.Helper()

	logger, err := logfx.NewLoggerAsDefault(io.Discard, &logfx.Config{Level: "ERROR"})
	require.NoError(t, err)

	return logger
}

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*renders.Job
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]*renders.Job)}
}

func (m *memoryJobStore) PutRenderJob(ctx context.Context, job *renders.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *job
	m.jobs[job.JobID] = &stored

	return nil
}

func (m *memoryJobStore) GetRenderJob(ctx context.Context, jobID string) (*renders.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrJobNotFound, jobID)
	}

	return job, nil
}

func (m *memoryJobStore) ListRenderJobs(ctx context.Context) ([]*renders.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*renders.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (m *memoryJobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.jobs)
}

type memoryUsageSink struct {
	mu      sync.Mutex
	records int
}

func (m *memoryUsageSink) PublishUsageRecord(ctx context.Context, record *renders.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records++

	return nil
}

func (m *memoryUsageSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.records
}

func defaultSessionConfig() *sessions.Config {
	return &sessions.Config{
		HeartbeatInterval:    time.Minute,
		HeartbeatGraceFactor: 2,
		MaxRetainedResults:   16,
		ReapInterval:         time.Minute,
	}
}

type streamHarness struct {
	gateway  *stream_gateway.StreamGateway
	registry *pools.Registry
	sessions *sessions.Registry
	jobs     *memoryJobStore
	usage    *memoryUsageSink
}

func newStreamHarness(t *testing.T, sessionConfig *sessions.Config) *streamHarness {
	t.Helper()

	return newStreamHarnessWithFactory(t, sessionConfig, nil)
}

func newStreamHarnessWithFactory(
	t *testing.T,
	sessionConfig *sessions.Config,
	factory pools.EngineFactory,
) *streamHarness {
	t.Helper()

	logger := testLogger(t)

	if factory == nil {
		factory = engine.NewEchoFactory(&engine.Config{}, logger)
	}

	registry, err := pools.NewRegistry(&pools.Config{
		ShardCount:            1,
		MaxInstances:          2,
		WaitQueueLimit:        8,
		AcquireDeadline:       500 * time.Millisecond,
		IdleTimeout:           time.Minute,
		SweepInterval:         50 * time.Millisecond,
		MaxRendersPerInstance: 100,
		MaxInstanceAge:        time.Hour,
		CloseGrace:            time.Second,
	}, logger, factory)
	require.NoError(t, err)

	registry.Start(context.Background())
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), eventually)
		defer cancel()

		_ = registry.Close(closeCtx)
	})

	router := pools.NewRouter(registry, logger, factory)
	sessionRegistry := sessions.NewRegistry(sessionConfig, logger)

	jobs := newMemoryJobStore()
	usage := &memoryUsageSink{}

	service := gateway.NewService(
		&gateway.Config{
			MaxCallsPerBatch: 8,
			RetryAfterHint:   time.Second,
			Retry: gateway.RetryPolicy{
				MaxAttempts:   2,
				BackoffPeriod: 10 * time.Millisecond,
			},
		},
		&renders.Config{
			MaxDocumentBytes: 1 << 20,
			DefaultTimeout:   2 * time.Second,
			MaxTimeout:       5 * time.Second,
		},
		logger,
		registry,
		router,
		sessionRegistry,
		jobs,
		usage,
	)

	streamGateway := stream_gateway.New(
		&stream_gateway.Config{Addr: "127.0.0.1:0", MaxFrameBytes: 1 << 20},
		sessionConfig,
		logger,
		service,
		sessionRegistry,
	)

	return &streamHarness{
		gateway:  streamGateway,
		registry: registry,
		sessions: sessionRegistry,
		jobs:     jobs,
		usage:    usage,
	}
}

// gatedEngine signals when a render begins and then blocks until the shared
// gate opens, so tests can hold engines busy and observe the pool mid-flight.
type gatedEngine struct {
	gate    <-chan struct{}
	started chan<- struct{}
}

func (e *gatedEngine) Render(
	ctx context.Context,
	document renders.Document,
	options renders.Options,
) (*renders.Output, error) {
	e.started <- struct{}{}

	select {
	case <-e.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &renders.Output{Data: []byte("%PDF-gated " + document.HTML), PageCount: 1}, nil
}

func (e *gatedEngine) IsAlive() bool { return true }

func (e *gatedEngine) Close(ctx context.Context) error { return nil }

func gatedFactory(gate <-chan struct{}, started chan<- struct{}) pools.EngineFactory {
	return func(ctx context.Context) (pools.Engine, error) {
		return &gatedEngine{gate: gate, started: started}, nil
	}
}

type streamClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
	done    chan struct{}
}

// dialPipe serves one in-memory connection and returns its client end.
func dialPipe(t *testing.T, h *streamHarness) *streamClient {
	t.Helper()

	server, client := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)

		h.gateway.ServeConn(ctx, server)
	}()

	t.Cleanup(func() {
		cancel()
		client.Close()
		<-done
	})

	scanner := bufio.NewScanner(client)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	return &streamClient{t: t, conn: client, scanner: scanner, done: done}
}

func (c *streamClient) send(frame stream_gateway.ClientFrame) {
	payload, err := json.Marshal(frame)
	require.NoError(c.t, err)

	c.sendLine(payload)
}

func (c *streamClient) sendLine(line []byte) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(eventually))

	_, err := c.conn.Write(append(line, '\n'))
	require.NoError(c.t, err)
}

func (c *streamClient) recv() (stream_gateway.ServerFrame, error) {
	var frame stream_gateway.ServerFrame

	_ = c.conn.SetReadDeadline(time.Now().Add(eventually))

	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.EOF
		}

		return frame, err
	}

	err := json.Unmarshal(c.scanner.Bytes(), &frame)

	return frame, err
}

func (c *streamClient) mustRecv() stream_gateway.ServerFrame {
	c.t.Helper()

	frame, err := c.recv()
	require.NoError(c.t, err)

	return frame
}

func (c *streamClient) hello(identity string) stream_gateway.ServerFrame {
	c.t.Helper()

	c.send(stream_gateway.ClientFrame{Type: stream_gateway.FrameHello, Identity: identity})

	welcome := c.mustRecv()
	require.Equal(c.t, stream_gateway.FrameWelcome, welcome.Type)

	return welcome
}

// collectResolutions reads frames until n calls have resolved, keyed by call
// id. Heartbeat pings on the way are answered and skipped.
func (c *streamClient) collectResolutions(n int) map[string]stream_gateway.ServerFrame {
	c.t.Helper()

	resolved := make(map[string]stream_gateway.ServerFrame, n)

	for len(resolved) < n {
		frame := c.mustRecv()

		switch frame.Type {
		case stream_gateway.FramePing:
			c.send(stream_gateway.ClientFrame{Type: stream_gateway.FramePong, Seq: frame.Seq})
		case stream_gateway.FrameResult, stream_gateway.FrameError:
			resolved[frame.ID] = frame
		default:
			require.Failf(c.t, "unexpected frame", "type %q", frame.Type)
		}
	}

	return resolved
}

func TestServeConnHandshake(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)

	welcome := client.hello("tenant-7")

	assert.NotEmpty(t, welcome.SessionID)
	assert.Equal(t, int64(60_000), welcome.HeartbeatIntervalMs)
	assert.Equal(t, 1, h.sessions.ActiveCount())
}

func TestServeConnRendersCall(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)
	client.hello("tenant-7")

	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "invoice-1",
		Document: renders.Document{HTML: "<h1>invoice</h1>"},
	})

	result := client.mustRecv()

	require.Equal(t, stream_gateway.FrameResult, result.Type)
	assert.Equal(t, "invoice-1", result.ID)
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, []byte("%PDF-echo <h1>invoice</h1>"), result.Output)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, len(result.Output), result.OutputBytes)

	assert.Eventually(t, func() bool {
		return h.jobs.count() == 1 && h.usage.count() == 1
	}, eventually, 10*time.Millisecond)
}

func TestServeConnResolvesDependencyAcrossFrames(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)
	client.hello("tenant-7")

	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "cover",
		Document: renders.Document{HTML: "cover page"},
	})
	client.send(stream_gateway.ClientFrame{
		Type:      stream_gateway.FrameCall,
		ID:        "merged",
		Document:  renders.Document{HTML: `<img src="{{result:cover}}">`},
		DependsOn: []string{"cover"},
	})

	resolved := client.collectResolutions(2)

	cover := resolved["cover"]
	require.Equal(t, stream_gateway.FrameResult, cover.Type)

	merged := resolved["merged"]
	require.Equal(t, stream_gateway.FrameResult, merged.Type)

	encoded := base64.StdEncoding.EncodeToString([]byte("%PDF-echo cover page"))
	assert.Contains(t, string(merged.Output), "data:application/pdf;base64,"+encoded)
}

func TestServeConnRequiresHello(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)

	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "early",
		Document: renders.Document{HTML: "too soon"},
	})

	// The server may or may not flush its goodbye before tearing down, but
	// it must close the connection without establishing a session.
	for {
		frame, err := client.recv()
		if err != nil {
			break
		}

		require.Equal(t, stream_gateway.FrameGoodbye, frame.Type)
	}

	select {
	case <-client.done:
	case <-time.After(eventually):
		t.Fatal("connection was not torn down")
	}

	assert.Equal(t, 0, h.sessions.ActiveCount())
}

func TestServeConnRejectsBadFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		send func(client *streamClient)
	}{
		{
			name: "missing call id",
			send: func(client *streamClient) {
				client.send(stream_gateway.ClientFrame{
					Type:     stream_gateway.FrameCall,
					Document: renders.Document{HTML: "anon"},
				})
			},
		},
		{
			name: "unknown frame type",
			send: func(client *streamClient) {
				client.send(stream_gateway.ClientFrame{Type: "teleport"})
			},
		},
		{
			name: "second hello",
			send: func(client *streamClient) {
				client.send(stream_gateway.ClientFrame{Type: stream_gateway.FrameHello, Identity: "again"})
			},
		},
		{
			name: "undecodable frame",
			send: func(client *streamClient) {
				client.sendLine([]byte(`{"type":"call",`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newStreamHarness(t, defaultSessionConfig())
			client := dialPipe(t, h)
			client.hello("tenant-7")

			tt.send(client)

			frame := client.mustRecv()
			require.Equal(t, stream_gateway.FrameError, frame.Type)
			assert.Equal(t, renders.KindValidationFailed, frame.Kind)
		})
	}
}

func TestServeConnRejectsDuplicateCallID(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)
	client.hello("tenant-7")

	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "twice",
		Document: renders.Document{HTML: "first"},
	})
	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "twice",
		Document: renders.Document{HTML: "second"},
	})

	resolved := client.collectResolutions(1)

	// The duplicate registration fails synchronously; the original call still
	// resolves under the same id, so one more frame follows.
	first := resolved["twice"]

	second := client.mustRecv()
	for second.Type == stream_gateway.FramePing {
		second = client.mustRecv()
	}

	types := []string{first.Type, second.Type}
	assert.Contains(t, types, stream_gateway.FrameError)
	assert.Contains(t, types, stream_gateway.FrameResult)
}

func TestServeConnPingPong(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)
	client.hello("tenant-7")

	client.send(stream_gateway.ClientFrame{Type: stream_gateway.FramePing, Seq: 7})

	pong := client.mustRecv()
	require.Equal(t, stream_gateway.FramePong, pong.Type)
	assert.Equal(t, int64(7), pong.Seq)
}

func TestServeConnGoodbyeClosesSession(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())
	client := dialPipe(t, h)
	client.hello("tenant-7")

	require.Equal(t, 1, h.sessions.ActiveCount())

	client.send(stream_gateway.ClientFrame{Type: stream_gateway.FrameGoodbye, Reason: "done"})

	select {
	case <-client.done:
	case <-time.After(eventually):
		t.Fatal("connection was not torn down")
	}

	assert.Equal(t, 0, h.sessions.ActiveCount())
}

func TestServeConnCloseReleasesEnginesAndDropsQueuedCalls(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	started := make(chan struct{}, 8)

	h := newStreamHarnessWithFactory(t, defaultSessionConfig(), gatedFactory(gate, started))
	client := dialPipe(t, h)
	client.hello("tenant-7")

	// Two calls occupy both engines; two more sit in the wait queue.
	for i := range 4 {
		client.send(stream_gateway.ClientFrame{
			Type:     stream_gateway.FrameCall,
			ID:       fmt.Sprintf("doc-%d", i),
			Document: renders.Document{HTML: "busy"},
		})
	}

	for range 2 {
		select {
		case <-started:
		case <-time.After(eventually):
			t.Fatal("render did not start")
		}
	}

	require.NoError(t, client.conn.Close())

	select {
	case <-client.done:
	case <-time.After(eventually):
		t.Fatal("connection was not torn down")
	}

	close(gate)

	// Both held engines drain back to idle once their renders finish; the
	// queued calls leave the shard without ever occupying a slot.
	assert.Eventually(t, func() bool {
		stats := h.registry.Stats()[0]

		return stats.BusyInstances == 0 && stats.IdleInstances == 2 && stats.QueueDepth == 0
	}, eventually, 10*time.Millisecond)

	assert.Empty(t, started)
	assert.Equal(t, 0, h.sessions.ActiveCount())
}

func TestServeConnHeartbeatAndGrace(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, &sessions.Config{
		HeartbeatInterval:    50 * time.Millisecond,
		HeartbeatGraceFactor: 2,
		MaxRetainedResults:   16,
		ReapInterval:         time.Minute,
	})
	client := dialPipe(t, h)

	welcome := client.hello("tenant-7")
	assert.Equal(t, int64(50), welcome.HeartbeatIntervalMs)

	// Stay silent: the server should ping at least once, then give up on us
	// after the grace window and close the connection.
	sawPing := false

	for {
		frame, err := client.recv()
		if err != nil {
			break
		}

		if frame.Type == stream_gateway.FramePing {
			sawPing = true
		}
	}

	assert.True(t, sawPing)

	select {
	case <-client.done:
	case <-time.After(eventually):
		t.Fatal("silent connection was not reaped")
	}

	assert.Equal(t, 0, h.sessions.ActiveCount())
}

func TestStreamGatewayOverTCP(t *testing.T) {
	t.Parallel()

	h := newStreamHarness(t, defaultSessionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cleanup, err := h.gateway.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	conn, err := net.Dial("tcp", h.gateway.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	client := &streamClient{t: t, conn: conn, scanner: scanner, done: make(chan struct{})}
	client.hello("tcp-client")

	client.send(stream_gateway.ClientFrame{
		Type:     stream_gateway.FrameCall,
		ID:       "over-tcp",
		Document: renders.Document{HTML: "wire"},
	})

	result := client.mustRecv()
	require.Equal(t, stream_gateway.FrameResult, result.Type)
	assert.Equal(t, []byte("%PDF-echo wire"), result.Output)
}
