package audio

import (
	"github.com/plugdev/plugdev/bridge"
	"github.com/plugdev/plugdev/dylib"
)

// EngineProcessor adapts a loaded module's vtable to the Processor
// interface. The module consumes interleaved stereo, so the adapter
// re-packs around the call using buffers sized at construction.
type EngineProcessor struct {
	engine *dylib.Engine
	inBuf  []float32
	outBuf []float32
}

// NewEngineProcessor wraps engine for blocks up to maxBlock frames.
func NewEngineProcessor(engine *dylib.Engine, sampleRate, maxBlock int) *EngineProcessor {
	engine.SetSampleRate(float32(sampleRate))
	engine.Reset()
	return &EngineProcessor{
		engine: engine,
		inBuf:  make([]float32, maxBlock*2),
		outBuf: make([]float32, maxBlock*2),
	}
}

// ApplyParams is a no-op: a module with a vtable reads its parameters on its
// own side of the FFI boundary.
func (e *EngineProcessor) ApplyParams(*bridge.Bridge) {}

func (e *EngineProcessor) Process(in, out [2][]float32, frames int) {
	interleave(in[0], in[1], e.inBuf, frames)
	e.engine.Process(e.inBuf[:frames*2], e.outBuf[:frames*2])
	deinterleave(e.outBuf, 2, out[0], out[1], frames)
}
