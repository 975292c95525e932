// Package ring implements the far-end delay line: a fixed-capacity circular
// store of equal-length int16 frames.
//
// Capture lags playback by a variable delay, so the far-end signal has to be
// kept around until the matching near-end frame shows up. When the ring is
// full the oldest frame is overwritten; frames older than the tracked horizon
// are useless to the canceller anyway.
//
// A Ring is not safe for concurrent use.
package ring

// Ring is a bounded history of far-end frames.
type Ring struct {
	frames [][]int16 // backing slots, each frameLen long
	zero   []int16   // returned for ages with no history
	head   int       // slot of the next write
	size   int       // occupied slots
	total  uint64    // frames pushed since the last Reset
}

// New creates a Ring holding up to capacity frames of frameLen samples.
// All slots are allocated up front.
func New(capacity, frameLen int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring{
		frames: make([][]int16, capacity),
		zero:   make([]int16, frameLen),
	}
	for i := range r.frames {
		r.frames[i] = make([]int16, frameLen)
	}
	return r
}

// Push copies frame into the ring, overwriting the oldest slot when full.
// frame is truncated or zero-padded to the ring's frame length.
func (r *Ring) Push(frame []int16) {
	slot := r.frames[r.head]
	n := copy(slot, frame)
	for i := n; i < len(slot); i++ {
		slot[i] = 0
	}
	r.head = (r.head + 1) % len(r.frames)
	if r.size < len(r.frames) {
		r.size++
	}
	r.total++
}

// PeekAligned returns the frame pushed age frames ago (age 0 is the newest).
// When the ring does not hold that much history it returns a zero-filled
// frame and false. The returned slice aliases ring storage and is only valid
// until the next Push or Reset.
func (r *Ring) PeekAligned(age int) ([]int16, bool) {
	if age < 0 || age >= r.size {
		return r.zero, false
	}
	idx := r.head - 1 - age
	idx = ((idx % len(r.frames)) + len(r.frames)) % len(r.frames)
	return r.frames[idx], true
}

// Len returns the number of frames currently held.
func (r *Ring) Len() int { return r.size }

// Cap returns the maximum number of frames the ring can hold.
func (r *Ring) Cap() int { return len(r.frames) }

// Total returns the number of frames pushed since creation or the last
// Reset. The newest frame has sequence number Total()-1.
func (r *Ring) Total() uint64 { return r.total }

// Reset empties the ring and zeroes every slot.
func (r *Ring) Reset() {
	for _, f := range r.frames {
		for i := range f {
			f[i] = 0
		}
	}
	r.head = 0
	r.size = 0
	r.total = 0
}
