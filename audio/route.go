package audio

// routeFrames distributes interleaved stereo frames onto however many
// physical output channels exist: 1 gets an equal-weighted downmix of the
// two logical channels, 2 is a direct passthrough, more than 2 gets the two
// logical channels on the first pair and silence on the rest. dst holds
// frames*outChannels samples; stereo holds frames*2.
func routeFrames(stereo []float32, dst []float32, outChannels int, frames int) {
	switch outChannels {
	case 0:
		return
	case 1:
		for i := 0; i < frames; i++ {
			dst[i] = 0.5*stereo[2*i] + 0.5*stereo[2*i+1]
		}
	case 2:
		copy(dst[:frames*2], stereo[:frames*2])
	default:
		for i := 0; i < frames; i++ {
			base := i * outChannels
			dst[base] = stereo[2*i]
			dst[base+1] = stereo[2*i+1]
			for c := 2; c < outChannels; c++ {
				dst[base+c] = 0
			}
		}
	}
}

// deinterleave splits interleaved capture samples into the two logical
// channel buffers. A mono input is duplicated onto both channels; missing
// input becomes silence.
func deinterleave(src []float32, inChannels int, left, right []float32, frames int) {
	switch {
	case inChannels <= 0 || len(src) == 0:
		zero(left[:frames])
		zero(right[:frames])
	case inChannels == 1:
		for i := 0; i < frames; i++ {
			left[i] = src[i]
			right[i] = src[i]
		}
	default:
		for i := 0; i < frames; i++ {
			left[i] = src[i*inChannels]
			right[i] = src[i*inChannels+1]
		}
	}
}

// interleave packs the two logical channels back into interleaved stereo.
func interleave(left, right []float32, dst []float32, frames int) {
	for i := 0; i < frames; i++ {
		dst[2*i] = left[i]
		dst[2*i+1] = right[i]
	}
}

func zero(x []float32) {
	for i := range x {
		x[i] = 0
	}
}
