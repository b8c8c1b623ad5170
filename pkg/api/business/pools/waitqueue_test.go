package pools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedWaiter(id string, deadline time.Time) *waiter {
	return &waiter{
		id:         id,
		enqueuedAt: time.Now(),
		deadline:   deadline,
		reply:      make(chan acquireReply, 1),
	}
}

func TestWaitQueueFIFO(t *testing.T) {
	t.Parallel()

	var wq WaitQueue

	deadline := time.Now().Add(time.Minute)

	wq.Enqueue(queuedWaiter("a", deadline))
	wq.Enqueue(queuedWaiter("b", deadline))
	wq.Enqueue(queuedWaiter("c", deadline))

	require.Equal(t, 3, wq.Len())
	assert.Equal(t, "a", wq.Peek().id)

	assert.Equal(t, "a", wq.Dequeue().id)
	assert.Equal(t, "b", wq.Dequeue().id)
	assert.Equal(t, "c", wq.Dequeue().id)
	assert.Nil(t, wq.Dequeue())
	assert.Nil(t, wq.Peek())
	assert.Equal(t, 0, wq.Len())
}

func TestWaitQueueRemove(t *testing.T) {
	t.Parallel()

	var wq WaitQueue

	deadline := time.Now().Add(time.Minute)

	wq.Enqueue(queuedWaiter("a", deadline))
	wq.Enqueue(queuedWaiter("b", deadline))
	wq.Enqueue(queuedWaiter("c", deadline))

	assert.True(t, wq.Remove("b"))
	assert.False(t, wq.Remove("b"))
	assert.False(t, wq.Remove("missing"))

	assert.Equal(t, 2, wq.Len())
	assert.Equal(t, "a", wq.Dequeue().id)
	assert.Equal(t, "c", wq.Dequeue().id)
}

func TestWaitQueueExpireBefore(t *testing.T) {
	t.Parallel()

	var wq WaitQueue

	now := time.Now()

	// Expiry is deadline-based, not position-based: the middle entry carries
	// the shortest deadline.
	wq.Enqueue(queuedWaiter("a", now.Add(time.Minute)))
	wq.Enqueue(queuedWaiter("b", now.Add(-time.Second)))
	wq.Enqueue(queuedWaiter("c", now.Add(time.Minute)))

	expired := wq.ExpireBefore(now)

	require.Len(t, expired, 1)
	assert.Equal(t, "b", expired[0].id)

	assert.Equal(t, 2, wq.Len())
	assert.Equal(t, "a", wq.Peek().id)

	assert.Empty(t, wq.ExpireBefore(now))
}

func TestWaitQueueNextDeadline(t *testing.T) {
	t.Parallel()

	var wq WaitQueue

	_, ok := wq.NextDeadline()
	assert.False(t, ok)

	now := time.Now()

	wq.Enqueue(queuedWaiter("a", now.Add(3*time.Second)))
	wq.Enqueue(queuedWaiter("b", now.Add(time.Second)))
	wq.Enqueue(queuedWaiter("c", now.Add(2*time.Second)))

	next, ok := wq.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Second), next)
}

func TestWaitQueueDrain(t *testing.T) {
	t.Parallel()

	var wq WaitQueue

	deadline := time.Now().Add(time.Minute)

	wq.Enqueue(queuedWaiter("a", deadline))
	wq.Enqueue(queuedWaiter("b", deadline))

	drained := wq.Drain()

	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].id)
	assert.Equal(t, "b", drained[1].id)
	assert.Equal(t, 0, wq.Len())
	assert.Empty(t, wq.Drain())
}
