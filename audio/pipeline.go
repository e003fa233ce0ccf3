// Package audio is the real-time half of the bridge: a duplex pipeline that
// deinterleaves captured samples, runs them through the current processor,
// taps metering and oscilloscope data, and feeds interleaved frames through
// an SPSC ring to the playback side. The two callbacks are hardware-driven
// and never allocate, lock or block; everything they touch is pre-sized when
// the pipeline is built.
package audio

import (
	"fmt"
	"sync/atomic"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/bridge"
)

// State of the pipeline.
type State int32

const (
	Uninitialized State = iota
	DevicesNegotiated
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DevicesNegotiated:
		return "devices-negotiated"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Processor is the plugin boundary: one block of per-channel, equal-length
// input and output buffers. ApplyParams runs between blocks on the audio
// thread and must only do lock-free bridge reads.
type Processor interface {
	ApplyParams(b *bridge.Bridge)
	Process(in, out [2][]float32, frames int)
}

// Config sizes the pipeline. All buffers derive from it at construction.
type Config struct {
	SampleRate   int
	BlockSize    int // frames per callback the backend was asked for
	RingBlocks   int // transfer headroom in blocks, minimum 4
	MeterDivisor int // meter every Nth capture callback, minimum 1
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 512
	}
	if c.RingBlocks < 4 {
		c.RingBlocks = 4
	}
	if c.MeterDivisor < 1 {
		c.MeterDivisor = 2
	}
	return c
}

// Pipeline owns the audio-thread state. The control side talks to it only
// through atomics (processor and bridge swaps) and channels (meter frames,
// scope frames).
type Pipeline struct {
	cfg   Config
	state atomic.Int32

	proc atomic.Pointer[procBox]
	brdg atomic.Pointer[bridge.Bridge]

	ring  *Ring
	scope *Scope

	inL, inR   []float32
	outL, outR []float32
	stereo     []float32 // interleaved scratch between process and ring
	popBuf     []float32 // playback-side stereo scratch

	seq     uint64
	meterCh chan plugdev.MeterFrame
}

// procBox exists so the processor can be swapped with a single atomic
// pointer store.
type procBox struct{ p Processor }

// NewPipeline pre-sizes every buffer the callbacks will touch.
func NewPipeline(cfg Config, proc Processor, b *bridge.Bridge) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:     cfg,
		ring:    NewRing(cfg.BlockSize * 2 * cfg.RingBlocks),
		scope:   NewScope(cfg.BlockSize),
		inL:     make([]float32, cfg.BlockSize),
		inR:     make([]float32, cfg.BlockSize),
		outL:    make([]float32, cfg.BlockSize),
		outR:    make([]float32, cfg.BlockSize),
		stereo:  make([]float32, cfg.BlockSize*2),
		popBuf:  make([]float32, cfg.BlockSize*2),
		meterCh: make(chan plugdev.MeterFrame, 4),
	}
	p.proc.Store(&procBox{p: proc})
	p.brdg.Store(b)
	p.state.Store(int32(Uninitialized))
	return p
}

// State returns the pipeline state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// SetState is called by the device backend as negotiation and start/stop
// progress.
func (p *Pipeline) SetState(s State) { p.state.Store(int32(s)) }

// Config returns the sizing the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Meters returns the channel of subsampled meter frames. Frames are dropped,
// not queued, when the consumer lags.
func (p *Pipeline) Meters() <-chan plugdev.MeterFrame { return p.meterCh }

// Scope returns the oscilloscope tap.
func (p *Pipeline) Scope() *Scope { return p.scope }

// Ring exposes the transfer buffer for underrun/drop accounting.
func (p *Pipeline) Ring() *Ring { return p.ring }

// SwapProcessor installs a new processor; it takes effect at the next block
// boundary. The old processor finishes its in-flight block untouched.
func (p *Pipeline) SwapProcessor(proc Processor) {
	p.proc.Store(&procBox{p: proc})
}

// SwapBridge installs the bridge built for a new parameter set after a
// rebuild. The old bridge stays readable until the swap is observed.
func (p *Pipeline) SwapBridge(b *bridge.Bridge) {
	p.brdg.Store(b)
}

// Bridge returns the currently installed bridge.
func (p *Pipeline) Bridge() *bridge.Bridge {
	return p.brdg.Load()
}

// Capture is the input callback: deinterleave, apply bridge overrides, run
// the processor, tap meter and scope, interleave into the transfer ring.
// frames must not exceed Config.BlockSize; excess is truncated.
func (p *Pipeline) Capture(interleaved []float32, inChannels, frames int) {
	if frames > p.cfg.BlockSize {
		frames = p.cfg.BlockSize
	}
	p.seq++

	deinterleave(interleaved, inChannels, p.inL, p.inR, frames)

	box := p.proc.Load()
	if box != nil && box.p != nil {
		box.p.ApplyParams(p.brdg.Load())
		box.p.Process([2][]float32{p.inL, p.inR}, [2][]float32{p.outL, p.outR}, frames)
	} else {
		copy(p.outL[:frames], p.inL[:frames])
		copy(p.outR[:frames], p.inR[:frames])
	}

	if p.seq%uint64(p.cfg.MeterDivisor) == 0 {
		frame := measure(p.seq, p.outL[:frames], p.outR[:frames])
		select {
		case p.meterCh <- frame:
		default:
		}
	}
	p.scope.capture(p.seq, p.outL[:frames], p.outR[:frames])

	interleave(p.outL, p.outR, p.stereo, frames)
	p.ring.Push(p.stereo[:frames*2])
}

// Playback is the output callback: pop interleaved frames from the ring,
// substitute silence on underflow, and route onto the physical channels.
func (p *Pipeline) Playback(dst []float32, outChannels, frames int) {
	if outChannels <= 0 {
		zero(dst)
		return
	}
	if frames > p.cfg.BlockSize {
		frames = p.cfg.BlockSize
		zero(dst) // the tail beyond one block stays silent
	}
	n := p.ring.Pop(p.popBuf[:frames*2])
	zero(p.popBuf[n : frames*2])
	routeFrames(p.popBuf, dst, outChannels, frames)
}
