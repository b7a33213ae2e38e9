package utils

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-capacity circular buffer. Appending to a full buffer
// overwrites the oldest element.
// -----------------------------------------------------------------------------

type RingBuffer[T any] struct {
	data     []T
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds an element, evicting the oldest when full
func (rb *RingBuffer[T]) Append(v T) {
	rb.data[rb.index] = v
	rb.index = (rb.index + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n newest elements, oldest first
func (rb *RingBuffer[T]) GetLatest(n int) []T {
	if rb.size == 0 || n <= 0 {
		return []T{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]T, count)
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer[T]) GetAll() []T {
	return rb.GetLatest(rb.size)
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer[T]) Size() int {
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// Resize changes the capacity of the buffer
// If newCapacity < size, oldest data is dropped
func (rb *RingBuffer[T]) Resize(newCapacity int) {
	if newCapacity <= 0 || newCapacity == rb.capacity {
		return
	}

	kept := rb.GetLatest(newCapacity)
	newData := make([]T, newCapacity)
	copy(newData, kept)

	rb.data = newData
	rb.capacity = newCapacity
	rb.size = len(kept)
	rb.index = rb.size % newCapacity
}

// -----------------------------------------------------------------------------

// IsFull returns whether buffer is full
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer[T]) Clear() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.index = 0
	rb.size = 0
}
