package grid

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/logging"
)

// SessionPool hands out one grid session per worker with reference
// counting. A worker that acquires twice shares its own session; the
// session is only closed when every checkout has been released. Sessions
// are never shared across workers.
type SessionPool struct {
	dial DialFunc

	mu       sync.Mutex
	sessions map[string]*poolEntry
}

type poolEntry struct {
	conn Connection
	refs int
}

// Checkout is proof of one successful Acquire. Each Checkout must be
// released exactly once.
type Checkout struct {
	workerID string
	conn     Connection
	released bool
}

// Conn returns the session this checkout holds.
func (c *Checkout) Conn() Connection {
	return c.conn
}

func NewSessionPool(dial DialFunc) *SessionPool {
	return &SessionPool{
		dial:     dial,
		sessions: make(map[string]*poolEntry),
	}
}

// Acquire returns a checkout on the worker's session, opening one if the
// worker holds none.
func (p *SessionPool) Acquire(ctx context.Context, workerID string) (*Checkout, error) {
	p.mu.Lock()
	if entry, ok := p.sessions[workerID]; ok {
		entry.refs++
		p.mu.Unlock()
		return &Checkout{workerID: workerID, conn: entry.conn}, nil
	}
	p.mu.Unlock()

	// Dial outside the lock so one slow connect does not stall every
	// other worker's acquire.
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "opening grid session for worker %q", workerID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.sessions[workerID]; ok {
		// The worker raced itself and a session landed first; keep it.
		entry.refs++
		go conn.Close()
		return &Checkout{workerID: workerID, conn: entry.conn}, nil
	}
	p.sessions[workerID] = &poolEntry{conn: conn, refs: 1}
	return &Checkout{workerID: workerID, conn: conn}, nil
}

// Release returns a checkout. When the last checkout of a worker comes
// back the underlying session is closed and forgotten. An unmatched
// release is a bookkeeping bug in the caller; it is logged and ignored
// rather than closing a session another checkout still holds.
func (p *SessionPool) Release(c *Checkout) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if c.released {
		p.mu.Unlock()
		logging.Warn("grid checkout released twice", zap.String("worker", c.workerID))
		return
	}
	c.released = true

	entry, ok := p.sessions[c.workerID]
	if !ok {
		p.mu.Unlock()
		logging.Warn("release for worker with no open grid session", zap.String("worker", c.workerID))
		return
	}

	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, c.workerID)
	p.mu.Unlock()

	if err := entry.conn.Close(); err != nil {
		logging.Warn("closing grid session", zap.String("worker", c.workerID), zap.Error(err))
	}
}

// ActiveSessions reports how many workers currently hold a session.
func (p *SessionPool) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Shutdown closes every open session regardless of outstanding checkouts.
// Meant for process teardown only.
func (p *SessionPool) Shutdown() {
	p.mu.Lock()
	entries := p.sessions
	p.sessions = make(map[string]*poolEntry)
	p.mu.Unlock()

	for workerID, entry := range entries {
		if err := entry.conn.Close(); err != nil {
			logging.Warn("closing grid session at shutdown",
				zap.String("worker", workerID), zap.Error(err))
		}
	}
}
