package audio

import (
	"sync/atomic"

	"github.com/plugdev/plugdev"
)

// Scope is the oscilloscope tap. The capture callback copies one block of
// stereo pairs into a pre-sized buffer only while the scope is armed, then
// hands the frame off and disarms itself; the control-side relay deep-copies
// the frame and re-arms. Observation only: the tap never touches the audio
// being processed.
type Scope struct {
	armed atomic.Bool
	buf   [][2]float32
	out   chan plugdev.OscFrame
}

// NewScope pre-sizes the snapshot buffer for blocks up to maxBlock frames.
func NewScope(maxBlock int) *Scope {
	s := &Scope{
		buf: make([][2]float32, maxBlock),
		out: make(chan plugdev.OscFrame, 1),
	}
	s.armed.Store(true)
	return s
}

// Frames returns the channel of captured snapshots. The Samples slice of a
// received frame aliases the scope's internal buffer; copy it before
// re-arming.
func (s *Scope) Frames() <-chan plugdev.OscFrame { return s.out }

// Arm allows the next callback to capture a snapshot.
func (s *Scope) Arm() { s.armed.Store(true) }

// capture is called from the capture callback. No-op unless armed; never
// blocks, never allocates.
func (s *Scope) capture(seq uint64, left, right []float32) {
	if !s.armed.CompareAndSwap(true, false) {
		return
	}
	n := len(left)
	if n > len(s.buf) {
		n = len(s.buf)
	}
	for i := 0; i < n; i++ {
		s.buf[i][0] = left[i]
		s.buf[i][1] = right[i]
	}
	select {
	case s.out <- plugdev.OscFrame{Seq: seq, Samples: s.buf[:n]}:
	default:
		// relay still holds the previous frame; try again next block
		s.armed.Store(true)
	}
}
