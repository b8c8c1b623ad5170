package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/eser/ajan/logfx"

	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

var _ pools.Engine = (*EchoEngine)(nil)

// EchoEngine is the development provider: it never launches a process and
// answers every render with a tiny deterministic document.
type EchoEngine struct {
	logger *logfx.Logger

	closed atomic.Bool
}

func NewEchoFactory(config *Config, logger *logfx.Logger) pools.EngineFactory {
	return func(ctx context.Context) (pools.Engine, error) {
		return &EchoEngine{logger: logger}, nil
	}
}

func (e *EchoEngine) Render(
	ctx context.Context,
	document renders.Document,
	options renders.Options,
) (*renders.Output, error) {
	if e.closed.Load() {
		return nil, renders.ErrInstanceCrashed
	}

	e.logger.DebugContext(ctx, "[EchoEngine] Rendering document",
		"module", "engine", "document_bytes", len(document.HTML))

	data := []byte("%PDF-echo ")

	// Non-default options are echoed into the output so callers can verify
	// they arrived at the engine intact.
	if options != (renders.Options{}) {
		optionsJSON, _ := json.Marshal(options)
		data = append(data, optionsJSON...)
		data = append(data, ' ')
	}

	data = append(data, document.HTML...)

	return &renders.Output{
		Data:      data,
		PageCount: 1,
	}, nil
}

func (e *EchoEngine) IsAlive() bool {
	return !e.closed.Load()
}

func (e *EchoEngine) Close(ctx context.Context) error {
	e.closed.Store(true)

	return nil
}
