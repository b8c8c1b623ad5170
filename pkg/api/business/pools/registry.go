package pools

import (
	"context"
	"errors"
	"fmt"

	"github.com/eser/ajan/logfx"
)

// Registry holds the fixed set of shard managers, built once at startup.
type Registry struct {
	config   *Config
	logger   *logfx.Logger
	managers []*Manager
}

func NewRegistry(config *Config, logger *logfx.Logger, factory EngineFactory) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	managers := make([]*Manager, config.ShardCount)
	for shard := range managers {
		managers[shard] = NewManager(config, logger, shard, factory)
	}

	return &Registry{config: config, logger: logger, managers: managers}, nil
}

func (r *Registry) Start(ctx context.Context) {
	for _, manager := range r.managers {
		manager.Start(ctx)
	}

	r.logger.InfoContext(ctx, "[Pools] Registry started",
		"module", "pools",
		"shards", len(r.managers),
		"max_instances_per_shard", r.config.MaxInstances)
}

func (r *Registry) ShardCount() int {
	return len(r.managers)
}

// Capacity returns the maximum number of instances across all shards.
func (r *Registry) Capacity() int {
	return len(r.managers) * r.config.MaxInstances
}

func (r *Registry) Manager(shard int) (*Manager, error) {
	if shard < 0 || shard >= len(r.managers) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, shard)
	}

	return r.managers[shard], nil
}

// Stats collects a snapshot from every shard.
func (r *Registry) Stats() []Stats {
	stats := make([]Stats, 0, len(r.managers))

	for _, manager := range r.managers {
		stats = append(stats, manager.Stats())
	}

	return stats
}

// Close shuts every shard down concurrently, bounded by ctx.
func (r *Registry) Close(ctx context.Context) error {
	results := make(chan error, len(r.managers))

	for _, manager := range r.managers {
		go func() {
			results <- manager.Close(ctx)
		}()
	}

	var errs []error

	for range r.managers {
		if err := <-results; err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
