package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

type ConnectionType string

const (
	ConnectionBatch      ConnectionType = "batch"
	ConnectionPersistent ConnectionType = "persistent"
)

// call carries the completion state of one logical call. The entry fields
// are written once by CompleteCall before done is closed, so awaiters may
// read them without the session lock after done fires.
type call struct {
	done   chan struct{}
	output *renders.Output
	err    error
}

// Session is the gateway-side record of one client connection. Persistent
// sessions retain completed call outputs so later calls can depend on them;
// retention is bounded, oldest entries fall out first.
type Session struct {
	ID             string
	Identity       string
	ConnectionType ConnectionType
	CreatedAt      time.Time

	mu             sync.Mutex
	lastActivityAt time.Time
	pending        map[string]*call
	retained       map[string]*call
	retainedOrder  []string
	maxRetained    int
}

func newSession(identity string, connectionType ConnectionType, maxRetained int, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		Identity:       identity,
		ConnectionType: connectionType,
		CreatedAt:      now,

		lastActivityAt: now,
		pending:        make(map[string]*call),
		retained:       make(map[string]*call),
		maxRetained:    maxRetained,
	}
}

// Touch refreshes the activity clock. Any frame from the client counts.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivityAt = now
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActivityAt
}

// SilentFor reports how long the session has gone without client activity.
func (s *Session) SilentFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt())
}

func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// BeginCall registers a call id as in flight. Ids must be unique for the
// lifetime of the session, pending and completed alike.
func (s *Session) BeginCall(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivityAt = now

	if _, ok := s.pending[id]; ok {
		return fmt.Errorf("%w: duplicate call id %q", renders.ErrValidationFailed, id)
	}

	if _, ok := s.retained[id]; ok {
		return fmt.Errorf("%w: call id %q was already used", renders.ErrValidationFailed, id)
	}

	s.pending[id] = &call{done: make(chan struct{})}

	return nil
}

// CompleteCall resolves a pending call and retains its outcome for later
// dependents, evicting the oldest retained entry past the bound.
func (s *Session) CompleteCall(id string, output *renders.Output, callErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[id]
	if !ok {
		return
	}

	delete(s.pending, id)

	entry.output = output
	entry.err = callErr

	s.retained[id] = entry
	s.retainedOrder = append(s.retainedOrder, id)

	for s.maxRetained > 0 && len(s.retained) > s.maxRetained {
		oldest := s.retainedOrder[0]
		s.retainedOrder = s.retainedOrder[1:]

		delete(s.retained, oldest)
	}

	close(entry.done)
}

// AwaitDependency blocks until the named call completes and returns its
// output. Unknown or evicted ids fail validation; a failed dependency turns
// into a dependency error for the awaiting call.
func (s *Session) AwaitDependency(ctx context.Context, id string) (*renders.Output, error) {
	s.mu.Lock()

	entry, ok := s.pending[id]
	if !ok {
		entry, ok = s.retained[id]
	}

	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: dependency %q is unknown or no longer retained", renders.ErrValidationFailed, id)
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", renders.ErrConnectionLost, context.Cause(ctx))
	}

	if entry.err != nil {
		return nil, fmt.Errorf("%w: call %q failed: %s", renders.ErrDependencyFailed, id, renders.KindOf(entry.err))
	}

	return entry.output, nil
}
