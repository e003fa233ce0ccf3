package audio

import (
	"math"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/bridge"
)

// Generator parameter ids, also used as the bridge slot keys.
const (
	GenFreqID = "gen.freq"
	GenGainID = "gen.gain"
	GenMixID  = "gen.mix"
)

// Generator is the dev-mode processor a fresh session runs before the first
// user module is built: a sine generator mixed with the captured input, so
// the session makes sound and the meters move immediately. All three knobs
// live on the bridge and take effect at the next block.
type Generator struct {
	sampleRate float64
	phase      float64

	freq float64 // Hz, mapped from the normalized slot
	gain float32
	mix  float32 // 0 = input only, 1 = tone only
}

// NewGenerator builds a generator for the negotiated sample rate.
func NewGenerator(sampleRate int) *Generator {
	return &Generator{
		sampleRate: float64(sampleRate),
		freq:       440,
		gain:       0.5,
		mix:        1,
	}
}

// GeneratorParams declares the generator's parameters; the session seeds the
// host and bridge with these until the first extraction replaces them.
func GeneratorParams() []plugdev.ParameterInfo {
	return []plugdev.ParameterInfo{
		{ID: GenFreqID, Name: "Frequency", Kind: plugdev.ParamFloat, Value: 0.5, Default: 0.5, Unit: "Hz", Group: "generator"},
		{ID: GenGainID, Name: "Gain", Kind: plugdev.ParamFloat, Value: 0.5, Default: 0.5, Group: "generator"},
		{ID: GenMixID, Name: "Tone Mix", Kind: plugdev.ParamFloat, Value: 1, Default: 1, Group: "generator"},
	}
}

// ApplyParams reads the bridge slots. Runs on the audio thread between
// blocks; bridge reads only.
func (g *Generator) ApplyParams(b *bridge.Bridge) {
	if b == nil {
		return
	}
	if v, ok := b.Read(GenFreqID); ok {
		// 20 Hz .. 2 kHz on an exponential curve
		g.freq = 20 * math.Pow(100, float64(v))
	}
	if v, ok := b.Read(GenGainID); ok {
		g.gain = v
	}
	if v, ok := b.Read(GenMixID); ok {
		g.mix = v
	}
}

func (g *Generator) Process(in, out [2][]float32, frames int) {
	inc := 2 * math.Pi * g.freq / g.sampleRate
	dry := 1 - g.mix
	for i := 0; i < frames; i++ {
		tone := float32(math.Sin(g.phase)) * g.gain
		g.phase += inc
		out[0][i] = g.mix*tone + dry*in[0][i]
		out[1][i] = g.mix*tone + dry*in[1][i]
	}
	if g.phase > 2*math.Pi {
		g.phase = math.Mod(g.phase, 2*math.Pi)
	}
}
