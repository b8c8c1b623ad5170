package pools

import "sync"

type ReleaseOutcome int

const (
	// ReleaseSuccess returns the engine after a completed render.
	ReleaseSuccess ReleaseOutcome = iota
	// ReleaseCrash marks the engine unusable; it is evicted, never reused.
	ReleaseCrash
	// ReleaseUnused returns an engine that was granted but never rendered,
	// e.g. when an acquire lost the race against its own cancellation.
	ReleaseUnused
)

// Lease is exclusive ownership of one engine between Acquire and Release.
// The engine must not be used after Release.
type Lease struct {
	manager *Manager
	record  *InstanceRecord

	released sync.Once
}

func (l *Lease) Engine() Engine {
	return l.record.Engine
}

func (l *Lease) InstanceID() string {
	return l.record.ID
}

func (l *Lease) Shard() int {
	return l.manager.shard
}

// Release hands the engine back to its shard. Idempotent; only the first
// call counts.
func (l *Lease) Release(outcome ReleaseOutcome) {
	l.released.Do(func() {
		l.manager.release(l.record, outcome)
	})
}
