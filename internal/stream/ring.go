package stream

import "sync"

// FrameRing stores the last N frames seen on a stream.
type FrameRing struct {
	mu     sync.Mutex
	size   int
	frames []Frame
	next   int
	full   bool
}

// NewFrameRing returns a ring buffer sized for the provided frame count.
func NewFrameRing(size int) *FrameRing {
	if size <= 0 {
		size = 1
	}
	return &FrameRing{
		size:   size,
		frames: make([]Frame, size),
	}
}

// Add stores a frame in the ring buffer.
func (r *FrameRing) Add(frame Frame) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames[r.next] = frame
	r.next++
	if r.next >= r.size {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns the buffered frames in arrival order.
func (r *FrameRing) Snapshot() []Frame {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Frame, r.next)
		copy(out, r.frames[:r.next])
		return out
	}

	out := make([]Frame, r.size)
	copy(out, r.frames[r.next:])
	copy(out[r.size-r.next:], r.frames[:r.next])
	return out
}

// Strings renders the snapshot for log output.
func (r *FrameRing) Strings() []string {
	frames := r.Snapshot()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.String())
	}
	return out
}
