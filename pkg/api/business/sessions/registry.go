package sessions

import (
	"sync"
	"time"

	"github.com/eser/ajan/logfx"
)

// Registry tracks live sessions across both connection modes. Connections
// open and close their own sessions; ReapStale is the safety net for
// records whose connection died without cleaning up.
type Registry struct {
	config *Config
	logger *logfx.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(config *Config, logger *logfx.Logger) *Registry {
	return &Registry{
		config: config,
		logger: logger,

		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Open(identity string, connectionType ConnectionType) *Session {
	session := newSession(identity, connectionType, r.config.MaxRetainedResults, time.Now())

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Debug("[Sessions] Session opened",
		"module", "sessions", "session_id", session.ID,
		"identity", identity, "connection_type", connectionType)

	return session
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]

	return session, ok
}

func (r *Registry) Close(session *Session) {
	r.mu.Lock()
	delete(r.sessions, session.ID)
	r.mu.Unlock()

	r.logger.Debug("[Sessions] Session closed",
		"module", "sessions", "session_id", session.ID,
		"identity", session.Identity, "pending_calls", session.PendingCalls())
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// ReapStale drops persistent sessions silent beyond the heartbeat allowance
// and returns how many were removed. Batch sessions live for exactly one
// request and are closed by the request path itself; they have no heartbeat,
// so a long-running batch must not count as stale.
func (r *Registry) ReapStale(now time.Time) int {
	ttl := r.config.TTL()

	r.mu.Lock()

	var stale []*Session

	for _, session := range r.sessions {
		if session.ConnectionType == ConnectionBatch {
			continue
		}

		if session.SilentFor(now) >= ttl {
			stale = append(stale, session)
			delete(r.sessions, session.ID)
		}
	}

	r.mu.Unlock()

	for _, session := range stale {
		r.logger.Warn("[Sessions] Reaped stale session",
			"module", "sessions", "session_id", session.ID,
			"identity", session.Identity,
			"silent_for", session.SilentFor(now).Round(time.Second))
	}

	return len(stale)
}
