package feeds

// ring is a fixed-capacity circular buffer that evicts the oldest element on
// overflow. Storage is allocated once. Not safe for concurrent use; callers
// hold the owning series lock.
type ring[T any] struct {
	buf  []T
	next int // slot the next push writes
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v, returning true if an old element was evicted
func (r *ring[T]) push(v T) bool {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
		return false
	}
	return true
}

// len returns the number of retained elements
func (r *ring[T]) len() int {
	return r.size
}

// at returns the i-th element counting from the oldest (0) to the newest (len-1)
func (r *ring[T]) at(i int) T {
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	return r.buf[(start+i)%len(r.buf)]
}

// newest returns a pointer to the most recent element, or nil when empty
func (r *ring[T]) newest() *T {
	if r.size == 0 {
		return nil
	}
	idx := r.next - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return &r.buf[idx]
}
