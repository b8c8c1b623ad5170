package gateway

import "time"

// RetryPolicy bounds how many times a call is re-dispatched after an engine
// crash. Content failures are never retried.
type RetryPolicy struct {
	MaxAttempts   int           `conf:"MAX_ATTEMPTS" default:"2"`
	BackoffPeriod time.Duration `conf:"BACKOFF_PERIOD" default:"250ms"`
}

type Config struct {
	MaxCallsPerBatch int           `conf:"MAX_CALLS_PER_BATCH" default:"50"`
	RetryAfterHint   time.Duration `conf:"RETRY_AFTER_HINT" default:"1s"`

	Retry RetryPolicy `conf:"RETRY"`
}
