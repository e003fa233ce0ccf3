// Package buildguard serializes rebuild execution: at most one build runs at
// a time, and at most one more is queued behind it. The whole state machine
// is two atomic booleans; no external lock is involved.
package buildguard

import "sync/atomic"

// Guard is the three-state machine Idle -> Building -> Building-with-pending.
// The zero value is an idle guard, ready to use.
type Guard struct {
	building atomic.Bool
	pending  atomic.Bool
}

// TryStart transitions Idle -> Building. It returns false when a build is
// already running, in which case the caller should MarkPending instead.
func (g *Guard) TryStart() bool {
	return g.building.CompareAndSwap(false, true)
}

// MarkPending records that another build is wanted once the current one
// finishes. Idempotent; any number of marks collapse into one.
func (g *Guard) MarkPending() {
	g.pending.Store(true)
}

// Complete clears the Building state and takes the pending flag, returning
// whether a queued build was consumed. The caller is expected to start the
// next build immediately when Complete reports true.
func (g *Guard) Complete() bool {
	g.building.Store(false)
	return g.pending.Swap(false)
}

// Building reports whether a build window is currently open.
func (g *Guard) Building() bool {
	return g.building.Load()
}
