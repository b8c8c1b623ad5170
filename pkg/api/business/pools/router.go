package pools

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/eser/ajan/logfx"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

const anonymousIdentity = "anonymous"

// RenderMeta describes where a render actually ran.
type RenderMeta struct {
	InstanceID string
	Shard      int
	Fallback   bool
}

// Router maps identities onto shards and dispatches renders through the
// shard's manager. When the addressed shard cannot serve, it degrades to a
// one-off unpooled render instead of failing the call.
type Router struct {
	registry *Registry
	logger   *logfx.Logger
	factory  EngineFactory

	fallbackRenders atomic.Int64
}

func NewRouter(registry *Registry, logger *logfx.Logger, factory EngineFactory) *Router {
	return &Router{registry: registry, logger: logger, factory: factory}
}

// Shard returns the stable shard index for an identity. The same identity
// always lands on the same shard so its traffic reuses warm engines.
func (r *Router) Shard(identity string) int {
	if identity == "" {
		identity = anonymousIdentity
	}

	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(identity))

	return int(hasher.Sum32() % uint32(r.registry.ShardCount())) //nolint:gosec
}

// Fallbacks returns how many renders bypassed the pools so far.
func (r *Router) Fallbacks() int64 {
	return r.fallbackRenders.Load()
}

// Render acquires an engine on the identity's shard, runs the render, and
// releases the engine. The render context is detached from the caller's
// cancellation and bounded only by the timeout, so a dropped connection
// never kills an in-flight render. Crashes evict the instance and surface
// to the caller; the router itself never retries.
func (r *Router) Render(
	ctx context.Context,
	identity string,
	document renders.Document,
	options renders.Options,
	timeout time.Duration,
) (*renders.Output, RenderMeta, error) {
	shard := r.Shard(identity)

	manager, err := r.registry.Manager(shard)
	if err != nil {
		return r.renderUnpooled(ctx, shard, document, options, timeout)
	}

	lease, err := manager.Acquire(ctx)
	if errors.Is(err, ErrPoolClosed) {
		return r.renderUnpooled(ctx, shard, document, options, timeout)
	}

	if err != nil {
		return nil, RenderMeta{Shard: shard}, err
	}

	meta := RenderMeta{InstanceID: lease.InstanceID(), Shard: shard}

	renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	output, err := lease.Engine().Render(renderCtx, document, options)
	if err != nil {
		err = wrapRenderError(err, lease.Engine())

		if errors.Is(err, renders.ErrInstanceCrashed) {
			lease.Release(ReleaseCrash)
		} else {
			lease.Release(ReleaseSuccess)
		}

		return nil, meta, err
	}

	lease.Release(ReleaseSuccess)

	return output, meta, nil
}

func (r *Router) renderUnpooled(
	ctx context.Context,
	shard int,
	document renders.Document,
	options renders.Options,
	timeout time.Duration,
) (*renders.Output, RenderMeta, error) {
	meta := RenderMeta{Shard: shard, Fallback: true}
	count := r.fallbackRenders.Add(1)

	r.logger.WarnContext(ctx, "[Router] Shard unavailable, rendering unpooled",
		"module", "pools", "shard", shard, "fallback_renders", count)

	engine, err := r.factory(ctx)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %w", renders.ErrCreationFailed, err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.registry.config.CloseGrace)
		defer cancel()

		if closeErr := engine.Close(closeCtx); closeErr != nil {
			r.logger.Warn("[Router] Unpooled engine close failed",
				"module", "pools", "shard", shard, "error", closeErr)
		}
	}()

	renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	output, err := engine.Render(renderCtx, document, options)
	if err != nil {
		return nil, meta, wrapRenderError(err, engine)
	}

	return output, meta, nil
}

// wrapRenderError classifies an engine failure: a dead engine is a crash,
// everything else is a content-level render failure.
func wrapRenderError(err error, engine Engine) error {
	if errors.Is(err, renders.ErrInstanceCrashed) || !engine.IsAlive() {
		if errors.Is(err, renders.ErrInstanceCrashed) {
			return err
		}

		return fmt.Errorf("%w: %w", renders.ErrInstanceCrashed, err)
	}

	if errors.Is(err, renders.ErrRenderFailed) {
		return err
	}

	return fmt.Errorf("%w: %w", renders.ErrRenderFailed, err)
}
