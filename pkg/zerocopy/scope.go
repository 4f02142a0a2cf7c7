package zerocopy

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is reported by iterators whose guard or scope has been closed.
var ErrClosed = errors.New("guard closed")

// Scope is the lifetime a guard borrows from: a store read transaction,
// an epoch pin, or a vector generation. Closing the scope runs its
// release function exactly once and invalidates every guard bound to it.
type Scope struct {
	closed  atomic.Bool
	release func()
}

// NewScope creates a scope that calls release when closed. release may be
// nil.
func NewScope(release func()) *Scope {
	return &Scope{release: release}
}

// Alive reports whether the scope is still open.
func (s *Scope) Alive() bool {
	return s != nil && !s.closed.Load()
}

// Close releases the scope. Safe to call more than once and from multiple
// goroutines.
func (s *Scope) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.release != nil {
		s.release()
	}
}

// guard holds the state common to every guard type.
type guard struct {
	scope  *Scope
	owns   bool
	closed atomic.Bool
}

func (g *guard) alive() bool {
	return !g.closed.Load() && g.scope.Alive()
}

// close marks the guard closed and releases the scope if the guard owns it.
func (g *guard) close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	if g.owns {
		g.scope.Close()
	}
}
