package audio

import (
	"math"
	"sync/atomic"
)

// Ring is a fixed-capacity single-producer single-consumer float32 sample
// buffer. It never blocks and never allocates after construction, so both
// ends may run on real-time audio threads. When full, new samples overwrite
// the oldest unread ones.
type Ring struct {
	slots []atomic.Uint32 // float32 bits
	size  uint64

	// head is advanced by the consumer, and by the producer when it
	// drops the oldest sample. tail is only advanced by the producer.
	head atomic.Uint64
	tail atomic.Uint64

	overwritten atomic.Uint64
}

// NewRing creates a ring holding up to capacity samples
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		slots: make([]atomic.Uint32, capacity),
		size:  uint64(capacity),
	}
}

// Cap returns the capacity in samples
func (r *Ring) Cap() int {
	return int(r.size)
}

// Len returns the number of unread samples
func (r *Ring) Len() int {
	t := r.tail.Load()
	h := r.head.Load()
	if h > t {
		return 0
	}
	return int(t - h)
}

// Write appends samples, dropping the oldest unread samples when the ring
// is full. Producer side only.
func (r *Ring) Write(samples []float32) {
	for _, s := range samples {
		t := r.tail.Load()
		for {
			h := r.head.Load()
			if t-h < r.size {
				break
			}
			// full: drop the oldest sample unless the consumer just took it
			if r.head.CompareAndSwap(h, h+1) {
				r.overwritten.Add(1)
				break
			}
		}
		r.slots[t%r.size].Store(math.Float32bits(s))
		r.tail.Store(t + 1)
	}
}

// Read copies up to len(dst) of the oldest samples into dst and returns how
// many were copied. Consumer side only.
func (r *Ring) Read(dst []float32) int {
	for {
		h := r.head.Load()
		t := r.tail.Load()
		n := t - h
		if n == 0 {
			return 0
		}
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}
		for i := uint64(0); i < n; i++ {
			dst[i] = math.Float32frombits(r.slots[(h+i)%r.size].Load())
		}
		// if the producer dropped samples meanwhile, what we copied may be stale
		if r.head.CompareAndSwap(h, h+n) {
			return int(n)
		}
	}
}

// Fill reads into dst and zero-fills whatever the ring could not supply.
// It returns the number of zero samples written.
func (r *Ring) Fill(dst []float32) int {
	n := r.Read(dst)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return len(dst) - n
}

// Reset discards unread samples. Consumer side only.
func (r *Ring) Reset() {
	r.head.Store(r.tail.Load())
}

// Overwritten returns how many samples were dropped because the ring was full
func (r *Ring) Overwritten() uint64 {
	return r.overwritten.Load()
}
