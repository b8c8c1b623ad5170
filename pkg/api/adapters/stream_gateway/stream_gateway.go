package stream_gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/WarriorSushi/speedstein/pkg/api/business/sessions"
	"github.com/eser/ajan/logfx"
)

const (
	initialScanBuffer = 64 * 1024
	outboundBacklog   = 64
)

var (
	errConnClosed    = errors.New("connection closed")
	errHelloExpected = errors.New("hello frame expected")
	errClientGoodbye = errors.New("client said goodbye")
)

// StreamGateway serves the persistent render surface: newline-delimited JSON
// frames over one TCP connection per client. Calls arrive incrementally and
// may depend on any earlier call of the same session; results stream back in
// completion order.
type StreamGateway struct {
	config        *Config
	sessionConfig *sessions.Config
	logger        *logfx.Logger
	gateway       *gateway.Service
	sessions      *sessions.Registry

	listener net.Listener
}

func New(
	config *Config,
	sessionConfig *sessions.Config,
	logger *logfx.Logger,
	gatewayService *gateway.Service,
	sessionRegistry *sessions.Registry,
) *StreamGateway {
	return &StreamGateway{
		config:        config,
		sessionConfig: sessionConfig,
		logger:        logger,
		gateway:       gatewayService,
		sessions:      sessionRegistry,
	}
}

func (g *StreamGateway) Start(ctx context.Context) (func(), error) {
	listener, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", g.config.Addr, err)
	}

	g.listener = listener

	serveCtx, cancel := context.WithCancel(ctx)

	go func() {
		<-serveCtx.Done()

		listener.Close()
	}()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		g.acceptLoop(serveCtx, listener, &wg)
	}()

	g.logger.InfoContext(
		ctx,
		"[StreamGateway] Listening",
		"module", "stream_gateway",
		"addr", listener.Addr().String(),
	)

	cleanup := func() {
		cancel()
		wg.Wait()
	}

	return cleanup, nil
}

// Addr reports the bound listen address once Start has succeeded.
func (g *StreamGateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}

	return g.listener.Addr()
}

func (g *StreamGateway) acceptLoop(ctx context.Context, listener net.Listener, wg *sync.WaitGroup) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			g.logger.WarnContext(ctx, "[StreamGateway] Accept failed", "module", "stream_gateway", "error", err)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			g.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn speaks the frame protocol over one connection until the client
// says goodbye, the connection errors, or the heartbeat grace expires.
// Closing the connection never aborts renders that already hold an engine;
// only calls still waiting for capacity are cancelled.
func (g *StreamGateway) ServeConn(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(errConnClosed)

	go func() {
		<-connCtx.Done()

		conn.Close()
	}()

	out := make(chan ServerFrame, outboundBacklog)

	go g.writeLoop(connCtx, cancel, conn, out)

	g.readLoop(connCtx, cancel, conn, out)
}

func (g *StreamGateway) readLoop( //nolint:funlen,cyclop
	ctx context.Context,
	cancel context.CancelCauseFunc,
	conn net.Conn,
	out chan<- ServerFrame,
) {
	remoteAddr := conn.RemoteAddr().String()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, initialScanBuffer), g.config.MaxFrameBytes)

	ttl := g.sessionConfig.TTL()

	var session *sessions.Session

	for {
		// Any client frame counts as a heartbeat; silence past the grace
		// window fails the read and tears the connection down.
		_ = conn.SetReadDeadline(time.Now().Add(ttl))

		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = errConnClosed
			}

			if ctx.Err() == nil {
				g.logger.DebugContext(
					ctx,
					"[StreamGateway] Connection ended",
					"module", "stream_gateway",
					"remoteAddr", remoteAddr,
					"error", err,
				)
			}

			cancel(err)

			return
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var frame ClientFrame

		if err := json.Unmarshal(line, &frame); err != nil {
			g.send(ctx, out, errorFrame(g.gateway.CallError(
				"",
				fmt.Errorf("%w: undecodable frame: %w", renders.ErrValidationFailed, err),
			)))

			continue
		}

		now := time.Now()

		if session == nil {
			if frame.Type != FrameHello {
				g.send(ctx, out, ServerFrame{Type: FrameGoodbye, Reason: "hello expected"})
				cancel(errHelloExpected)

				return
			}

			session = g.sessions.Open(frame.Identity, sessions.ConnectionPersistent)
			defer g.sessions.Close(session)

			g.logger.DebugContext(
				ctx,
				"[StreamGateway] Session established",
				"module", "stream_gateway",
				"remoteAddr", remoteAddr,
				"sessionId", session.ID,
				"identity", session.Identity,
			)

			g.send(ctx, out, ServerFrame{
				Type:                FrameWelcome,
				SessionID:           session.ID,
				HeartbeatIntervalMs: g.sessionConfig.HeartbeatInterval.Milliseconds(),
			})

			go g.heartbeatLoop(ctx, out)

			continue
		}

		session.Touch(now)

		switch frame.Type {
		case FrameCall:
			g.startCall(ctx, session, frame, out)
		case FramePing:
			g.send(ctx, out, ServerFrame{Type: FramePong, Seq: frame.Seq})
		case FramePong:
			// activity clock already refreshed above
		case FrameGoodbye:
			g.logger.DebugContext(
				ctx,
				"[StreamGateway] Client said goodbye",
				"module", "stream_gateway",
				"remoteAddr", remoteAddr,
				"sessionId", session.ID,
				"reason", frame.Reason,
			)

			cancel(errClientGoodbye)

			return
		case FrameHello:
			g.send(ctx, out, errorFrame(g.gateway.CallError(
				"",
				fmt.Errorf("%w: session already established", renders.ErrValidationFailed),
			)))
		default:
			g.send(ctx, out, errorFrame(g.gateway.CallError(
				"",
				fmt.Errorf("%w: unknown frame type %q", renders.ErrValidationFailed, frame.Type),
			)))
		}
	}
}

// startCall registers the call id in frame arrival order, so later frames may
// depend on it, then resolves it concurrently.
func (g *StreamGateway) startCall(
	ctx context.Context,
	session *sessions.Session,
	frame ClientFrame,
	out chan<- ServerFrame,
) {
	if frame.ID == "" {
		g.send(ctx, out, errorFrame(g.gateway.CallError(
			"",
			fmt.Errorf("%w: call id is required", renders.ErrValidationFailed),
		)))

		return
	}

	call := &renders.Call{
		ID:        frame.ID,
		Document:  frame.Document,
		Options:   frame.Options,
		DependsOn: frame.DependsOn,
	}

	if err := session.BeginCall(call.ID, time.Now()); err != nil {
		g.send(ctx, out, errorFrame(g.gateway.CallError(call.ID, err)))

		return
	}

	go func() {
		result, err := g.gateway.ResolveCall(ctx, session, call)
		if err != nil {
			g.send(ctx, out, errorFrame(g.gateway.CallError(call.ID, err)))

			return
		}

		g.send(ctx, out, resultFrame(result))
	}()
}

func (g *StreamGateway) writeLoop(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	conn net.Conn,
	out <-chan ServerFrame,
) {
	encoder := json.NewEncoder(conn)

	for {
		select {
		case frame := <-out:
			if err := encoder.Encode(frame); err != nil {
				if ctx.Err() == nil {
					g.logger.DebugContext(
						ctx,
						"[StreamGateway] Connection write failed",
						"module", "stream_gateway",
						"error", err,
					)
				}

				cancel(fmt.Errorf("connection write failed: %w", err))

				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// heartbeatLoop pings on the configured interval. Silence is enforced on the
// read side through deadlines, so this loop only has to keep talking.
func (g *StreamGateway) heartbeatLoop(ctx context.Context, out chan<- ServerFrame) {
	ticker := time.NewTicker(g.sessionConfig.HeartbeatInterval)
	defer ticker.Stop()

	var seq int64

	for {
		select {
		case <-ticker.C:
			seq++

			g.send(ctx, out, ServerFrame{Type: FramePing, Seq: seq})
		case <-ctx.Done():
			return
		}
	}
}

func (g *StreamGateway) send(ctx context.Context, out chan<- ServerFrame, frame ServerFrame) {
	select {
	case out <- frame:
	case <-ctx.Done():
	}
}
