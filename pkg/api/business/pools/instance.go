package pools

import "time"

type InstanceStatus string

const (
	InstanceStarting InstanceStatus = "starting"
	InstanceIdle     InstanceStatus = "idle"
	InstanceBusy     InstanceStatus = "busy"
	InstanceCrashed  InstanceStatus = "crashed"
	InstanceRetiring InstanceStatus = "retiring"
	InstanceClosed   InstanceStatus = "closed"
)

// InstanceRecord is the bookkeeping around one engine lifetime. Records are
// owned by their shard's manager goroutine; nothing else mutates them.
type InstanceRecord struct {
	ID          string
	Engine      Engine
	Status      InstanceStatus
	CreatedAt   time.Time
	LastUsedAt  time.Time
	RenderCount int
}

func (r *InstanceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

func (r *InstanceRecord) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastUsedAt)
}
