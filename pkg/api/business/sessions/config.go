package sessions

import "time"

type Config struct {
	HeartbeatInterval    time.Duration `conf:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatGraceFactor int           `conf:"HEARTBEAT_GRACE_FACTOR" default:"2"`

	MaxRetainedResults int           `conf:"MAX_RETAINED_RESULTS" default:"128"`
	ReapInterval       time.Duration `conf:"REAP_INTERVAL" default:"30s"`
}

// TTL is how long a session may stay silent before it is considered dead.
func (c *Config) TTL() time.Duration {
	factor := c.HeartbeatGraceFactor
	if factor < 1 {
		factor = 1
	}

	return c.HeartbeatInterval * time.Duration(factor)
}
