package grid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeConn) Mkdir(ctx context.Context, path string) error           { return nil }
func (f *fakeConn) Put(ctx context.Context, local, remote string) error    { return nil }
func (f *fakeConn) List(ctx context.Context, p string) ([]string, error)   { return nil, nil }
func (f *fakeConn) SetAccess(ctx context.Context, p, u string, l AccessLevel) error {
	return nil
}
func (f *fakeConn) DownloadURL(ctx context.Context, p string, e time.Duration) (string, error) {
	return "", nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) dial(ctx context.Context) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func TestAcquireTwiceSharesOneSession(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	pool := NewSessionPool(dialer.dial)

	first, err := pool.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	second, err := pool.Acquire(ctx, "worker-1")
	require.NoError(t, err)

	assert.Equal(t, 1, dialer.dialCount())
	assert.Same(t, first.Conn(), second.Conn())

	// The session survives the first release and closes on the last.
	pool.Release(first)
	assert.Equal(t, 0, dialer.conns[0].closeCount())
	assert.Equal(t, 1, pool.ActiveSessions())

	pool.Release(second)
	assert.Equal(t, 1, dialer.conns[0].closeCount())
	assert.Equal(t, 0, pool.ActiveSessions())
}

func TestWorkersGetDistinctSessions(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	pool := NewSessionPool(dialer.dial)

	a, err := pool.Acquire(ctx, "worker-a")
	require.NoError(t, err)
	b, err := pool.Acquire(ctx, "worker-b")
	require.NoError(t, err)

	assert.Equal(t, 2, dialer.dialCount())
	assert.NotSame(t, a.Conn(), b.Conn())
	assert.Equal(t, 2, pool.ActiveSessions())
}

func TestUnmatchedReleaseIsANoOp(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	pool := NewSessionPool(dialer.dial)

	co, err := pool.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	pool.Release(co)
	require.Equal(t, 1, dialer.conns[0].closeCount())

	// Double release must not close anything else or panic.
	pool.Release(co)
	pool.Release(nil)
	assert.Equal(t, 1, dialer.conns[0].closeCount())
	assert.Equal(t, 0, pool.ActiveSessions())
}

func TestAcquireAfterFullReleaseDialsFresh(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	pool := NewSessionPool(dialer.dial)

	co, err := pool.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	pool.Release(co)

	again, err := pool.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dialCount())
	assert.NotSame(t, co.Conn(), again.Conn())
	pool.Release(again)
}

func TestShutdownClosesEverything(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	pool := NewSessionPool(dialer.dial)

	_, err := pool.Acquire(ctx, "worker-a")
	require.NoError(t, err)
	_, err = pool.Acquire(ctx, "worker-b")
	require.NoError(t, err)

	pool.Shutdown()
	assert.Equal(t, 0, pool.ActiveSessions())
	for _, conn := range dialer.conns {
		assert.Equal(t, 1, conn.closeCount())
	}
}
