// Package host implements the Host capability interface: an in-memory
// parameter store for the dev session, and a dylib-backed variant wrapping a
// loaded engine module. Everything above this package is polymorphic over
// plugdev.Host and never special-cases on the concrete type.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/plugdev/plugdev"
)

// MemoryHost owns the parameter table for one session. Readers and writers
// may interleave freely; meter and oscilloscope frames travel through
// single-slot latest-wins cells so the audio side never contends on the
// parameter lock.
type MemoryHost struct {
	mu     sync.RWMutex
	order  []string
	params map[string]plugdev.ParameterInfo
	procs  []plugdev.ProcessorInfo

	meter  atomic.Pointer[plugdev.MeterFrame]
	osc    atomic.Pointer[plugdev.OscFrame]
	status atomic.Pointer[plugdev.AudioStatus]

	// onChange is invoked after a successful SetParameter, outside the lock.
	// The session uses it to poke the atomic bridge and notify peers.
	onChange func(plugdev.ParameterInfo)
	// onResize decides resize requests; nil refuses them all.
	onResize func(w, h int) bool
}

var _ plugdev.Host = (*MemoryHost)(nil)

// NewMemoryHost builds a host over an initial parameter and processor set.
func NewMemoryHost(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo) *MemoryHost {
	h := &MemoryHost{}
	h.replace(params, procs)
	st := plugdev.AudioStatus{}
	h.status.Store(&st)
	return h
}

// OnParameterChanged registers the change hook. Call before the host is
// shared between goroutines.
func (h *MemoryHost) OnParameterChanged(fn func(plugdev.ParameterInfo)) { h.onChange = fn }

// OnResizeRequest registers the resize decision hook.
func (h *MemoryHost) OnResizeRequest(fn func(w, h int) bool) { h.onResize = fn }

func (h *MemoryHost) Parameter(id string) (plugdev.ParameterInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.params[id]
	return p, ok
}

func (h *MemoryHost) SetParameter(id string, value float32) error {
	h.mu.Lock()
	p, ok := h.params[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", plugdev.ErrParamNotFound, id)
	}
	if !plugdev.ValidNormalized(value) {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s=%v", plugdev.ErrParamOutOfRange, id, value)
	}
	p.Value = value
	h.params[id] = p
	hook := h.onChange
	h.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (h *MemoryHost) Parameters() []plugdev.ParameterInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]plugdev.ParameterInfo, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.params[id])
	}
	return out
}

func (h *MemoryHost) Processors() []plugdev.ProcessorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]plugdev.ProcessorInfo, len(h.procs))
	copy(out, h.procs)
	return out
}

// ReplaceAll swaps in a merged snapshot after a rebuild. The caller is
// expected to have run plugdev.MergeParameters already.
func (h *MemoryHost) ReplaceAll(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo) {
	h.mu.Lock()
	h.replace(params, procs)
	h.mu.Unlock()
}

func (h *MemoryHost) replace(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo) {
	h.order = make([]string, 0, len(params))
	h.params = make(map[string]plugdev.ParameterInfo, len(params))
	for _, p := range params {
		if _, dup := h.params[p.ID]; dup {
			continue
		}
		h.order = append(h.order, p.ID)
		h.params[p.ID] = p
	}
	h.procs = make([]plugdev.ProcessorInfo, len(procs))
	copy(h.procs, procs)
}

// PublishMeterFrame stores the newest meter frame, discarding the previous
// one. Called from the control side relay, never from the audio callback.
func (h *MemoryHost) PublishMeterFrame(f plugdev.MeterFrame) { h.meter.Store(&f) }

// PublishOscFrame stores the newest oscilloscope frame.
func (h *MemoryHost) PublishOscFrame(f plugdev.OscFrame) { h.osc.Store(&f) }

// SetAudioStatus records the pipeline's negotiated state.
func (h *MemoryHost) SetAudioStatus(st plugdev.AudioStatus) { h.status.Store(&st) }

func (h *MemoryHost) MeterFrame() (plugdev.MeterFrame, bool) {
	if f := h.meter.Load(); f != nil {
		return *f, true
	}
	return plugdev.MeterFrame{}, false
}

func (h *MemoryHost) OscFrame() (plugdev.OscFrame, bool) {
	if f := h.osc.Load(); f != nil {
		return *f, true
	}
	return plugdev.OscFrame{}, false
}

func (h *MemoryHost) AudioStatus() plugdev.AudioStatus {
	return *h.status.Load()
}

func (h *MemoryHost) RequestResize(w, hgt int) bool {
	if h.onResize == nil {
		return false
	}
	return h.onResize(w, hgt)
}
