package dylib

import "unsafe"

// Engine binds the vtable entry points into callable Go functions. Only
// available when the module exported a vtable with a matching version.
type Engine struct {
	process       func(in, out uintptr, frames uint32)
	reset         func()
	setSampleRate func(rate float32)
	destroy       func()
}

// Engine returns the bound processing entry points, or false when the module
// is metadata-only (no vtable, or a version mismatch).
func (m *Module) Engine() (*Engine, bool) {
	if m.vtable == nil {
		return nil, false
	}
	e := &Engine{}
	registerFunc(&e.process, m.vtable.Process)
	registerFunc(&e.reset, m.vtable.Reset)
	registerFunc(&e.setSampleRate, m.vtable.SetSampleRate)
	registerFunc(&e.destroy, m.vtable.Destroy)
	return e, true
}

// Process runs one block of interleaved stereo audio through the module.
// len(in) and len(out) must be equal and even.
func (e *Engine) Process(in, out []float32) {
	if len(out) == 0 {
		return
	}
	e.process(uintptr(unsafe.Pointer(&in[0])), uintptr(unsafe.Pointer(&out[0])), uint32(len(out)/2))
}

// Reset clears the module's internal processing state.
func (e *Engine) Reset() { e.reset() }

// SetSampleRate tells the module the negotiated sample rate.
func (e *Engine) SetSampleRate(rate float32) { e.setSampleRate(rate) }

// Destroy releases module-side resources. The module must not be processed
// after this.
func (e *Engine) Destroy() { e.destroy() }
