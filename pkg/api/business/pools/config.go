package pools

import (
	"fmt"
	"time"
)

const (
	minInstancesBound = 1
	maxInstancesBound = 5
)

type Config struct {
	ShardCount     int `conf:"SHARD_COUNT" default:"4"`
	MaxInstances   int `conf:"MAX_INSTANCES" default:"3"`
	WaitQueueLimit int `conf:"WAIT_QUEUE_LIMIT" default:"32"`

	AcquireDeadline time.Duration `conf:"ACQUIRE_DEADLINE" default:"5s"`
	IdleTimeout     time.Duration `conf:"IDLE_TIMEOUT" default:"5m"`
	SweepInterval   time.Duration `conf:"SWEEP_INTERVAL" default:"45s"`

	MaxRendersPerInstance int           `conf:"MAX_RENDERS_PER_INSTANCE" default:"1000"`
	MaxInstanceAge        time.Duration `conf:"MAX_INSTANCE_AGE" default:"1h"`

	CloseGrace time.Duration `conf:"CLOSE_GRACE" default:"10s"`
}

func (c *Config) Validate() error {
	if c.ShardCount < 1 {
		return fmt.Errorf("%w: shard count must be at least 1, got %d", ErrInvalidConfig, c.ShardCount)
	}

	if c.MaxInstances < minInstancesBound || c.MaxInstances > maxInstancesBound {
		return fmt.Errorf(
			"%w: max instances must be within [%d, %d], got %d",
			ErrInvalidConfig,
			minInstancesBound,
			maxInstancesBound,
			c.MaxInstances,
		)
	}

	if c.WaitQueueLimit < 1 {
		return fmt.Errorf("%w: wait queue limit must be at least 1, got %d", ErrInvalidConfig, c.WaitQueueLimit)
	}

	if c.AcquireDeadline <= 0 {
		return fmt.Errorf("%w: acquire deadline must be positive, got %s", ErrInvalidConfig, c.AcquireDeadline)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive, got %s", ErrInvalidConfig, c.SweepInterval)
	}

	return nil
}
