// Package guard provides the engine's reentrancy lock.
package guard

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard is a binary lock held for the whole duration of a mutating
// engine call. A second Enter while held fails immediately instead of
// blocking, so a collaborator calling back into the engine is rejected.
type ReentrancyGuard struct {
	held atomic.Bool
}

// Enter acquires the guard or returns ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	g.held.Store(false)
}

// Held reports whether a guarded call is in progress.
func (g *ReentrancyGuard) Held() bool {
	return g.held.Load()
}

// Run executes fn under the guard and releases it on every exit path,
// including panics. fn is not called when the guard is already held.
func (g *ReentrancyGuard) Run(fn func() error) error {
	if err := g.Enter(); err != nil {
		return err
	}
	defer g.Exit()
	return fn()
}
