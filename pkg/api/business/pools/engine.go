package pools

import (
	"context"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

//go:generate go tool mockery --name=Engine --inpackage --inpackage-suffix --case=underscore --structname=MockEngine --filename=mock_engine.go

// Engine wraps one running rendering-engine process. A handle is loaned to
// exactly one caller at a time; implementations do not need to be safe for
// concurrent renders.
type Engine interface {
	Render(ctx context.Context, document renders.Document, options renders.Options) (*renders.Output, error)
	IsAlive() bool
	Close(ctx context.Context) error
}

// EngineFactory starts a fresh engine process. Factories block until the
// engine is ready to accept renders or fail with a creation error.
type EngineFactory = func(ctx context.Context) (Engine, error)
