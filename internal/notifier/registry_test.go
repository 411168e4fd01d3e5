package notifier

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OnlineDeliveryWritesOnce(t *testing.T) {
	registry, dispatcher, buffer := newTestHub()
	conn := newFakeConn()
	registry.Register(context.Background(), "u1", conn)

	res := dispatcher.Dispatch(context.Background(), likeFor("u1", "p1"))

	assert.Equal(t, Delivered, res)
	assert.Equal(t, 1, conn.count())
	assert.Equal(t, 0, buffer.Pending("u1"))
}

func TestRegistry_FlushesBacklogInOrderOnRegister(t *testing.T) {
	registry, dispatcher, buffer := newTestHub()
	ctx := context.Background()

	for _, p := range []string{"n1", "n2", "n3"} {
		require.Equal(t, Buffered, dispatcher.Dispatch(ctx, likeFor("u1", p)))
	}
	require.Equal(t, 3, buffer.Pending("u1"))

	conn := newFakeConn()
	res := registry.Register(ctx, "u1", conn)

	assert.Equal(t, FlushResult{Sent: 3}, res)
	assert.Equal(t, []string{"n1", "n2", "n3"}, postIDs(conn.received(t)))
	assert.Equal(t, 0, buffer.Pending("u1"))
	assert.Equal(t, 0, buffer.Users())
}

func TestRegistry_RegisterWithEmptyBufferSendsNothing(t *testing.T) {
	registry, _, _ := newTestHub()
	conn := newFakeConn()

	res := registry.Register(context.Background(), "u1", conn)

	assert.Equal(t, FlushResult{}, res)
	assert.Zero(t, conn.count())
	assert.True(t, registry.IsOnline("u1"))
}

func TestRegistry_FlushFailureDropsRemainder(t *testing.T) {
	registry, dispatcher, buffer := newTestHub()
	ctx := context.Background()
	for _, p := range []string{"n1", "n2", "n3", "n4"} {
		dispatcher.Dispatch(ctx, likeFor("u1", p))
	}

	conn := newFakeConn()
	conn.failAt = 2
	res := registry.Register(ctx, "u1", conn)

	assert.Equal(t, FlushResult{Sent: 2, Dropped: 2}, res)
	assert.Equal(t, []string{"n1", "n2"}, postIDs(conn.received(t)))
	assert.Equal(t, 0, buffer.Pending("u1"), "dropped entries are not re-buffered")
	assert.False(t, registry.IsOnline("u1"))
}

func TestRegistry_StaleUnregisterKeepsNewerConnection(t *testing.T) {
	registry, dispatcher, _ := newTestHub()
	ctx := context.Background()
	h1, h2 := newFakeConn(), newFakeConn()

	registry.Register(ctx, "u1", h1)
	registry.Register(ctx, "u1", h2)

	assert.False(t, registry.Unregister("u1", h1))
	assert.True(t, registry.IsOnline("u1"))

	assert.Equal(t, Delivered, dispatcher.Dispatch(ctx, likeFor("u1", "p1")))
	assert.Zero(t, h1.count())
	assert.Equal(t, 1, h2.count())

	assert.True(t, registry.Unregister("u1", h2))
	assert.False(t, registry.IsOnline("u1"))
	assert.Zero(t, registry.Len())
}

func TestRegistry_DeliverReportsOfflineAndWriteFailure(t *testing.T) {
	registry, _, buffer := newTestHub()
	ctx := context.Background()

	assert.False(t, registry.Deliver(ctx, "u1", likeFor("u1", "p1")))

	conn := newFakeConn()
	conn.failAt = 0
	registry.Register(ctx, "u1", conn)
	assert.False(t, registry.Deliver(ctx, "u1", likeFor("u1", "p1")))
	assert.Zero(t, buffer.Pending("u1"), "Deliver itself never buffers")
	assert.False(t, registry.IsOnline("u1"))
	assert.Zero(t, registry.Len())
}

func TestRegistry_ConcurrentDispatchDuringReconnectKeepsOrder(t *testing.T) {
	registry, dispatcher, buffer := newTestHub()
	ctx := context.Background()

	const buffered = 50
	for i := 0; i < buffered; i++ {
		dispatcher.Dispatch(ctx, likeFor("u1", fmt.Sprintf("old-%02d", i)))
	}

	conn := newFakeConn()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		registry.Register(ctx, "u1", conn)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < buffered; i++ {
			dispatcher.Dispatch(ctx, likeFor("u1", fmt.Sprintf("new-%02d", i)))
		}
	}()
	wg.Wait()

	// dispatches that beat the registration were buffered behind the old
	// backlog; the rest went live after the flush
	got := postIDs(conn.received(t))
	require.Len(t, got, 2*buffered)
	for i := 0; i < buffered; i++ {
		assert.Equal(t, fmt.Sprintf("old-%02d", i), got[i])
	}
	newer := got[buffered:]
	for i := 0; i < buffered; i++ {
		assert.Equal(t, fmt.Sprintf("new-%02d", i), newer[i])
	}
	assert.Zero(t, buffer.Pending("u1"))
}

func TestUserLocks_ReleaseForgetsIdleUsers(t *testing.T) {
	locks := newUserLocks()
	unlock := locks.lock("u1")
	assert.Equal(t, 1, locks.size())
	unlock()
	assert.Zero(t, locks.size())
}
