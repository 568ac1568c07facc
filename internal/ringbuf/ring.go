// Package ringbuf provides a fixed-capacity circular buffer used for both the
// raw sample window and the prediction history.
//
// A [Ring] never reallocates on Push: once full, each new element silently
// overwrites the oldest one. Index 0 always refers to the oldest retained
// element. Ring is not safe for concurrent use; callers serialise access.
package ringbuf

// Ring is a fixed-capacity FIFO backed by a single arena slice.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	size  int
	total uint64 // elements ever pushed, including overwritten ones
}

// New returns an empty Ring holding at most capacity elements.
// It panics if capacity is not positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the maximum number of elements the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int { return r.size }

// Full reports whether the next Push will overwrite the oldest element.
func (r *Ring[T]) Full() bool { return r.size == len(r.buf) }

// Total returns the number of elements ever pushed, including elements that
// have since been overwritten or dropped.
func (r *Ring[T]) Total() uint64 { return r.total }

// Push appends v. If the ring is full the oldest element is overwritten.
func (r *Ring[T]) Push(v T) {
	r.total++
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Write pushes every element of vs in order. When len(vs) exceeds the
// capacity only the trailing Cap() elements survive.
func (r *Ring[T]) Write(vs []T) {
	if len(vs) == 0 {
		return
	}
	if skip := len(vs) - len(r.buf); skip > 0 {
		r.total += uint64(skip)
		vs = vs[skip:]
	}
	for _, v := range vs {
		r.Push(v)
	}
}

// At returns the i-th oldest element. It panics if i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Front returns the oldest element and false if the ring is empty.
func (r *Ring[T]) Front() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// Back returns the newest element and false if the ring is empty.
func (r *Ring[T]) Back() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// Tail copies the newest len(dst) elements into dst, oldest first, and
// returns the number copied. Fewer are copied when the ring holds fewer.
func (r *Ring[T]) Tail(dst []T) int {
	n := min(len(dst), r.size)
	start := r.size - n
	for i := range n {
		dst[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return n
}

// Snapshot returns a freshly allocated copy of all held elements, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	r.Tail(out)
	return out
}

// DropFront discards the n oldest elements. Dropping more than Len empties
// the ring.
func (r *Ring[T]) DropFront(n int) {
	if n <= 0 {
		return
	}
	n = min(n, r.size)
	var zero T
	for i := range n {
		r.buf[(r.head+i)%len(r.buf)] = zero
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

// Grow raises the capacity to at least capacity, preserving order. It is a
// no-op when the ring is already that large.
func (r *Ring[T]) Grow(capacity int) {
	if capacity <= len(r.buf) {
		return
	}
	buf := make([]T, capacity)
	r.Tail(buf[:r.size])
	r.buf = buf
	r.head = 0
}

// Reset empties the ring. Total is preserved.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.head = 0
	r.size = 0
}
