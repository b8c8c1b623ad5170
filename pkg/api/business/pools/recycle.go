package pools

import "time"

// RecyclePolicy decides when an instance must be retired instead of going
// back to idle. Pure decision logic; eviction itself is the manager's job.
type RecyclePolicy struct {
	MaxRenders int
	MaxAge     time.Duration
}

// ShouldRetire reports whether the record has to be retired, with the reason
// used for logging.
func (p RecyclePolicy) ShouldRetire(record *InstanceRecord, now time.Time) (bool, string) {
	if record.Status == InstanceCrashed {
		return true, "crashed"
	}

	if p.MaxRenders > 0 && record.RenderCount >= p.MaxRenders {
		return true, "render count reached"
	}

	if p.MaxAge > 0 && record.Age(now) >= p.MaxAge {
		return true, "max age reached"
	}

	return false, ""
}
