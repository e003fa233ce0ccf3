package audio

import "sync/atomic"

// Ring is the transfer buffer between the capture and playback callbacks: a
// bounded single-producer single-consumer queue of interleaved float32
// samples. Exactly one goroutine may push and exactly one may pop. Under-
// and overflow are defined, not exceptional: overflow drops the newest
// samples, underflow leaves the reader to substitute silence.
type Ring struct {
	buf  []float32
	head atomic.Uint64 // read position, only advanced by the consumer
	tail atomic.Uint64 // write position, only advanced by the producer

	dropped   atomic.Uint64
	underruns atomic.Uint64
}

// NewRing creates a ring holding capacity samples. Sized at construction,
// never resized; neither Push nor Pop allocates.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Capacity returns the total sample capacity.
func (r *Ring) Capacity() int { return len(r.buf) }

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Push appends samples, dropping whatever does not fit. Returns the number
// of samples actually written.
func (r *Ring) Push(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := len(r.buf) - int(tail-head)
	n := len(samples)
	if n > free {
		r.dropped.Add(uint64(n - free))
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[(tail+uint64(i))%uint64(len(r.buf))] = samples[i]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// Pop fills dst with buffered samples and returns how many were available.
// The caller substitutes silence for the remainder.
func (r *Ring) Pop(dst []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	avail := int(tail - head)
	n := len(dst)
	if n > avail {
		r.underruns.Add(1)
		n = avail
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(head+uint64(i))%uint64(len(r.buf))]
	}
	r.head.Store(head + uint64(n))
	return n
}

// Dropped returns the total number of samples discarded on overflow.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Underruns returns how many Pop calls found fewer samples than requested.
func (r *Ring) Underruns() uint64 { return r.underruns.Load() }
