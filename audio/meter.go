package audio

import (
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/plugdev/plugdev"
)

// measure computes one meter frame from deinterleaved channel buffers. The
// vek32 reductions work in place over the scratch buffers, so this is safe
// to call from the capture callback.
func measure(seq uint64, left, right []float32) plugdev.MeterFrame {
	return plugdev.MeterFrame{
		Seq:       seq,
		LeftPeak:  peak(left),
		LeftRMS:   rms(left),
		RightPeak: peak(right),
		RightRMS:  rms(right),
	}
}

func peak(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	hi := vek32.Max(x)
	lo := vek32.Min(x)
	if -lo > hi {
		return -lo
	}
	return hi
}

func rms(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	power := vek32.Dot(x, x) / float32(len(x))
	return float32(math.Sqrt(float64(power)))
}
