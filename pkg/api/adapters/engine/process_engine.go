package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eser/ajan/logfx"
	"github.com/google/uuid"

	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

var _ pools.Engine = (*ProcessEngine)(nil)

// ProcessEngine drives one renderer subprocess over its standard streams.
// One request is in flight at a time; the pool's lease discipline guarantees
// exclusive use. A missed render deadline kills the process rather than
// waiting the response out, since a late response line would desync every
// request after it.
type ProcessEngine struct {
	config *Config
	logger *logfx.Logger

	cmd    *exec.Cmd
	pid    int
	stdin  io.WriteCloser
	stdout *bufio.Reader

	alive   atomic.Bool
	closing atomic.Bool
	exited  chan struct{}
}

// NewProcessFactory returns an engine factory that launches one renderer
// subprocess per instance.
func NewProcessFactory(config *Config, logger *logfx.Logger) pools.EngineFactory {
	return func(ctx context.Context) (pools.Engine, error) {
		return startProcessEngine(ctx, config, logger)
	}
}

func startProcessEngine(ctx context.Context, config *Config, logger *logfx.Logger) (*ProcessEngine, error) {
	cmd := exec.Command(config.Command, strings.Fields(config.Args)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine process: %w", err)
	}

	engine := &ProcessEngine{
		config: config,
		logger: logger,

		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),

		exited: make(chan struct{}),
	}

	go engine.forwardStderr(stderr)

	version, err := engine.awaitReady(ctx)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()

		return nil, err
	}

	engine.alive.Store(true)

	go engine.monitor()

	logger.InfoContext(ctx, "[ProcessEngine] Engine ready",
		"module", "engine",
		"pid", engine.pid,
		"command", config.Command,
		"engine_version", version)

	return engine, nil
}

// awaitReady waits for the boot frame, bounded by StartTimeout and the
// caller's context.
func (e *ProcessEngine) awaitReady(ctx context.Context) (string, error) {
	type readyResult struct {
		frame readyFrame
		err   error
	}

	results := make(chan readyResult, 1)

	go func() {
		line, err := e.stdout.ReadBytes('\n')
		if err != nil {
			results <- readyResult{err: fmt.Errorf("engine exited before ready: %w", err)}

			return
		}

		var frame readyFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			results <- readyResult{err: fmt.Errorf("undecodable ready frame: %w", err)}

			return
		}

		results <- readyResult{frame: frame}
	}()

	timeout := time.NewTimer(e.config.StartTimeout)
	defer timeout.Stop()

	select {
	case result := <-results:
		if result.err != nil {
			return "", result.err
		}

		if !result.frame.Ready {
			return "", errors.New("engine reported not ready")
		}

		return result.frame.EngineVersion, nil
	case <-ctx.Done():
		return "", fmt.Errorf("engine start interrupted: %w", context.Cause(ctx))
	case <-timeout.C:
		return "", fmt.Errorf("engine not ready within %s", e.config.StartTimeout)
	}
}

// monitor reaps the process and flips the engine dead the moment it exits.
func (e *ProcessEngine) monitor() {
	err := e.cmd.Wait()

	e.alive.Store(false)
	close(e.exited)

	if e.closing.Load() {
		e.logger.Debug("[ProcessEngine] Engine exited",
			"module", "engine", "pid", e.pid, "error", err)

		return
	}

	e.logger.Warn("[ProcessEngine] Engine process died",
		"module", "engine", "pid", e.pid, "error", err)
}

// forwardStderr surfaces the engine's own log lines.
func (e *ProcessEngine) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		e.logger.Debug("[ProcessEngine] Engine log",
			"module", "engine", "pid", e.pid, "line", scanner.Text())
	}
}

func (e *ProcessEngine) Render(
	ctx context.Context,
	document renders.Document,
	options renders.Options,
) (*renders.Output, error) {
	if !e.alive.Load() {
		return nil, fmt.Errorf("%w: engine process is not running", renders.ErrInstanceCrashed)
	}

	request := requestFrame{ID: uuid.NewString(), Document: document, Options: options}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %w", renders.ErrRenderFailed, err)
	}

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)

	go func() {
		select {
		case <-ctx.Done():
			e.logger.Warn("[ProcessEngine] Render deadline hit, killing engine",
				"module", "engine", "pid", e.pid, "request_id", request.ID)
			e.kill()
		case <-watchdogDone:
		}
	}()

	if _, err := e.stdin.Write(append(payload, '\n')); err != nil {
		e.kill()

		return nil, fmt.Errorf("%w: %w", renders.ErrInstanceCrashed, err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		e.kill()

		return nil, fmt.Errorf("%w: %w", renders.ErrInstanceCrashed, err)
	}

	var response responseFrame
	if err := json.Unmarshal(line, &response); err != nil {
		e.kill()

		return nil, fmt.Errorf("%w: undecodable response: %w", renders.ErrInstanceCrashed, err)
	}

	if response.ID != request.ID {
		e.kill()

		return nil, fmt.Errorf(
			"%w: response %q does not match request %q",
			renders.ErrInstanceCrashed,
			response.ID,
			request.ID,
		)
	}

	if !response.OK {
		return nil, fmt.Errorf("%w: %s", renders.ErrRenderFailed, response.Error)
	}

	return &renders.Output{Data: response.Data, PageCount: response.PageCount}, nil
}

func (e *ProcessEngine) IsAlive() bool {
	return e.alive.Load()
}

// Close asks the engine to exit by closing its stdin, waits out the grace
// period, then kills it.
func (e *ProcessEngine) Close(ctx context.Context) error {
	e.closing.Store(true)
	e.alive.Store(false)

	_ = e.stdin.Close()

	grace := time.NewTimer(e.config.StopGrace)
	defer grace.Stop()

	select {
	case <-e.exited:
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	e.logger.Warn("[ProcessEngine] Engine did not exit in time, killing",
		"module", "engine", "pid", e.pid)

	_ = e.cmd.Process.Kill()

	<-e.exited

	return nil
}

func (e *ProcessEngine) kill() {
	e.alive.Store(false)

	_ = e.cmd.Process.Kill()
}
