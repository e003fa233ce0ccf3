// Package bridge carries parameter values from the control side to the audio
// callback without locks. A Bridge is a table of atomic float slots built
// once from the full parameter list; after construction only the slot values
// change, the map itself never does, so the audio thread can read it without
// synchronization.
package bridge

import (
	"math"
	"sync/atomic"

	"github.com/plugdev/plugdev"
)

// Bridge is safe for exactly two concurrent roles: one writer (the control
// or transport thread) and one reader (the audio thread). Neither path locks
// or allocates. A write becomes visible to the reader within a block or two;
// parameter updates are not synchronization points.
type Bridge struct {
	slots map[string]*atomic.Uint32
}

// New builds a bridge with one slot per parameter, seeded with the current
// values. The parameter set is frozen at this point; a rebuild makes a new
// bridge via Rebind instead of resizing this one.
func New(params []plugdev.ParameterInfo) *Bridge {
	slots := make(map[string]*atomic.Uint32, len(params))
	for _, p := range params {
		cell := new(atomic.Uint32)
		cell.Store(math.Float32bits(p.Value))
		slots[p.ID] = cell
	}
	return &Bridge{slots: slots}
}

// Write stores a value into the slot for id. Unknown ids are silently
// ignored; a stale control surface writing to a parameter that vanished in
// the last rebuild is expected, not an error.
func (b *Bridge) Write(id string, value float32) {
	if cell, ok := b.slots[id]; ok {
		cell.Store(math.Float32bits(value))
	}
}

// Read returns the current value of the slot for id.
func (b *Bridge) Read(id string) (float32, bool) {
	cell, ok := b.slots[id]
	if !ok {
		return 0, false
	}
	return math.Float32frombits(cell.Load()), true
}

// Len returns the number of slots.
func (b *Bridge) Len() int { return len(b.slots) }

// Snapshot copies every slot value into dst. Control-side debugging only;
// never call this from the audio thread as it ranges over the whole map.
func (b *Bridge) Snapshot(dst map[string]float32) {
	for id, cell := range b.slots {
		dst[id] = math.Float32frombits(cell.Load())
	}
}

// Rebind returns a fresh bridge for a new parameter set, seeded from the
// merged values. The old bridge is left untouched so the audio thread can
// keep reading it until the pipeline swaps the pointer between blocks.
func (b *Bridge) Rebind(params []plugdev.ParameterInfo) *Bridge {
	return New(params)
}
