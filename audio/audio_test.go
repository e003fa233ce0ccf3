package audio

import (
	"math"
	"testing"

	"github.com/plugdev/plugdev/bridge"
)

func TestRingPushPop(t *testing.T) {
	r := NewRing(8)
	n := r.Push([]float32{1, 2, 3, 4})
	if n != 4 || r.Len() != 4 {
		t.Fatalf("Push wrote %d, Len %d", n, r.Len())
	}
	dst := make([]float32, 4)
	if got := r.Pop(dst); got != 4 {
		t.Fatalf("Pop returned %d", got)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want)
		}
	}
}

func TestRingOverflowDropsNewest(t *testing.T) {
	r := NewRing(4)
	r.Push([]float32{1, 2, 3})
	n := r.Push([]float32{4, 5, 6})
	if n != 1 {
		t.Fatalf("second push should only fit 1 sample, wrote %d", n)
	}
	if r.Dropped() != 2 {
		t.Errorf("expected 2 dropped samples, got %d", r.Dropped())
	}
	dst := make([]float32, 4)
	r.Pop(dst)
	for i, want := range []float32{1, 2, 3, 4} {
		if dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v (oldest data must survive)", i, dst[i], want)
		}
	}
}

func TestRingUnderflow(t *testing.T) {
	r := NewRing(8)
	r.Push([]float32{1, 2})
	dst := []float32{9, 9, 9, 9}
	n := r.Pop(dst)
	if n != 2 {
		t.Fatalf("Pop returned %d, want 2", n)
	}
	if r.Underruns() != 1 {
		t.Errorf("expected 1 underrun, got %d", r.Underruns())
	}
}

func TestRingWrapsAround(t *testing.T) {
	r := NewRing(4)
	dst := make([]float32, 2)
	for round := 0; round < 10; round++ {
		r.Push([]float32{float32(round), float32(round) + 0.5})
		r.Pop(dst)
		if dst[0] != float32(round) || dst[1] != float32(round)+0.5 {
			t.Fatalf("round %d: got %v", round, dst)
		}
	}
}

func TestRouteMonoDownmix(t *testing.T) {
	dst := make([]float32, 1)
	routeFrames([]float32{0.5, 0.3}, dst, 1, 1)
	if math.Abs(float64(dst[0]-0.4)) > 1e-6 {
		t.Errorf("mono downmix = %v, want 0.4", dst[0])
	}
}

func TestRouteStereoPassthrough(t *testing.T) {
	dst := make([]float32, 2)
	routeFrames([]float32{0.5, 0.3}, dst, 2, 1)
	if dst[0] != 0.5 || dst[1] != 0.3 {
		t.Errorf("stereo passthrough = %v", dst)
	}
}

func TestRouteFourChannels(t *testing.T) {
	dst := []float32{9, 9, 9, 9}
	routeFrames([]float32{0.5, 0.3}, dst, 4, 1)
	if dst[0] != 0.5 || dst[1] != 0.3 {
		t.Errorf("first pair = %v %v", dst[0], dst[1])
	}
	if dst[2] != 0 || dst[3] != 0 {
		t.Errorf("channels 2-3 should be silent, got %v %v", dst[2], dst[3])
	}
}

func TestDeinterleaveMonoDuplicates(t *testing.T) {
	l, r := make([]float32, 2), make([]float32, 2)
	deinterleave([]float32{0.1, 0.2}, 1, l, r, 2)
	if l[0] != 0.1 || r[0] != 0.1 || l[1] != 0.2 || r[1] != 0.2 {
		t.Errorf("mono input should duplicate: l=%v r=%v", l, r)
	}
}

func TestDeinterleaveNoInputIsSilence(t *testing.T) {
	l, r := []float32{9}, []float32{9}
	deinterleave(nil, 0, l, r, 1)
	if l[0] != 0 || r[0] != 0 {
		t.Errorf("missing input should be silence: l=%v r=%v", l, r)
	}
}

func TestMeterMeasure(t *testing.T) {
	left := []float32{0.5, -0.5, 0.5, -0.5}
	right := []float32{0, 0, 0, 0}
	f := measure(1, left, right)
	if f.LeftPeak != 0.5 {
		t.Errorf("LeftPeak = %v, want 0.5", f.LeftPeak)
	}
	if math.Abs(float64(f.LeftRMS-0.5)) > 1e-6 {
		t.Errorf("LeftRMS = %v, want 0.5", f.LeftRMS)
	}
	if f.RightPeak != 0 || f.RightRMS != 0 {
		t.Errorf("silent channel should meter zero: %+v", f)
	}
}

func TestMeterNegativePeak(t *testing.T) {
	f := measure(1, []float32{-0.9, 0.1}, nil)
	if f.LeftPeak != 0.9 {
		t.Errorf("peak should use magnitude, got %v", f.LeftPeak)
	}
}

type constProcessor struct{ value float32 }

func (constProcessor) ApplyParams(*bridge.Bridge) {}
func (c constProcessor) Process(in, out [2][]float32, frames int) {
	for i := 0; i < frames; i++ {
		out[0][i] = c.value
		out[1][i] = c.value
	}
}

func TestPipelineCaptureToPlayback(t *testing.T) {
	p := NewPipeline(Config{BlockSize: 4, SampleRate: 48000}, constProcessor{value: 0.25}, nil)
	in := make([]float32, 8) // 4 frames stereo
	p.Capture(in, 2, 4)

	dst := make([]float32, 8)
	p.Playback(dst, 2, 4)
	for i, v := range dst {
		if v != 0.25 {
			t.Fatalf("dst[%d] = %v, want 0.25", i, v)
		}
	}
}

func TestPipelineUnderflowYieldsSilence(t *testing.T) {
	p := NewPipeline(Config{BlockSize: 4}, constProcessor{value: 1}, nil)
	dst := []float32{9, 9, 9, 9, 9, 9, 9, 9}
	p.Playback(dst, 2, 4)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %v, want silence", i, v)
		}
	}
}

func TestPlaybackZeroChannels(t *testing.T) {
	p := NewPipeline(Config{BlockSize: 4}, constProcessor{value: 1}, nil)
	p.Capture(make([]float32, 8), 2, 4)
	dst := []float32{9, 9, 9, 9}
	p.Playback(dst, 0, 4)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %v, want all zeros", i, v)
		}
	}
}

func TestPipelineMeterSubsampling(t *testing.T) {
	p := NewPipeline(Config{BlockSize: 4, MeterDivisor: 2}, constProcessor{value: 0.5}, nil)
	in := make([]float32, 8)
	for i := 0; i < 4; i++ {
		p.Capture(in, 2, 4)
	}
	frames := 0
	for {
		select {
		case <-p.Meters():
			frames++
			continue
		default:
		}
		break
	}
	if frames != 2 {
		t.Errorf("4 callbacks at divisor 2 should meter twice, got %d", frames)
	}
}

func TestPipelineSwapProcessor(t *testing.T) {
	p := NewPipeline(Config{BlockSize: 2}, constProcessor{value: 0.1}, nil)
	p.SwapProcessor(constProcessor{value: 0.9})
	p.Capture(make([]float32, 4), 2, 2)
	dst := make([]float32, 4)
	p.Playback(dst, 2, 2)
	if dst[0] != 0.9 {
		t.Errorf("swapped processor should take effect, got %v", dst[0])
	}
}

func TestGeneratorBridgeOverrides(t *testing.T) {
	g := NewGenerator(48000)
	b := bridge.New(GeneratorParams())
	b.Write(GenGainID, 0)
	b.Write(GenMixID, 1)
	g.ApplyParams(b)

	in := [2][]float32{make([]float32, 8), make([]float32, 8)}
	out := [2][]float32{make([]float32, 8), make([]float32, 8)}
	g.Process(in, out, 8)
	for i := 0; i < 8; i++ {
		if out[0][i] != 0 {
			t.Fatalf("zero gain should be silent, out[%d]=%v", i, out[0][i])
		}
	}
}

func TestGeneratorProducesSignal(t *testing.T) {
	g := NewGenerator(48000)
	in := [2][]float32{make([]float32, 64), make([]float32, 64)}
	out := [2][]float32{make([]float32, 64), make([]float32, 64)}
	g.Process(in, out, 64)
	var energy float64
	for _, v := range out[0] {
		energy += float64(v * v)
	}
	if energy == 0 {
		t.Fatal("generator should produce a nonzero signal")
	}
	if out[0][0] != out[1][0] {
		t.Error("tone should be identical on both channels")
	}
}

func TestScopeCapturesOnceUntilRearmed(t *testing.T) {
	s := NewScope(4)
	s.capture(1, []float32{1, 2, 3, 4}, []float32{5, 6, 7, 8})
	s.capture(2, []float32{9, 9, 9, 9}, []float32{9, 9, 9, 9})

	f := <-s.Frames()
	if f.Seq != 1 {
		t.Fatalf("expected the first block, got seq %d", f.Seq)
	}
	if f.Samples[0] != [2]float32{1, 5} {
		t.Errorf("unexpected first pair %v", f.Samples[0])
	}
	select {
	case f := <-s.Frames():
		t.Fatalf("disarmed scope captured seq %d", f.Seq)
	default:
	}

	s.Arm()
	s.capture(3, []float32{1, 1, 1, 1}, []float32{1, 1, 1, 1})
	f = <-s.Frames()
	if f.Seq != 3 {
		t.Fatalf("re-armed scope should capture, got seq %d", f.Seq)
	}
}
