package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"pulsegate/pkg/model"
)

var (
	ErrBufferFull = errors.New("buffer is full")
)

// envelope is a shaped payload on its way to the Buffer Store.
type envelope struct {
	feature model.Feature
	data    map[string]any
}

// RingBuffer is a fixed-size circular buffer of envelopes.
// Push is safe for many writers (request handlers); Pop is for a single
// reader (the lane drainer).
type RingBuffer struct {
	mu   sync.Mutex
	data []envelope
	head uint64
	tail uint64
	mask uint64
	size uint64

	// ready is signalled after each push so the reader can sleep when empty.
	ready chan struct{}

	// Metrics
	dropped uint64
}

// NewRingBuffer creates a ring buffer with the specified size (must be power of 2).
func NewRingBuffer(size uint64) (*RingBuffer, error) {
	if size == 0 || (size&(size-1)) != 0 {
		return nil, errors.New("size must be a power of 2")
	}
	return &RingBuffer{
		data:  make([]envelope, size),
		mask:  size - 1,
		size:  size,
		ready: make(chan struct{}, 1),
	}, nil
}

// Push adds an item to the buffer.
// If the buffer is full, it drops the item and returns ErrBufferFull.
func (rb *RingBuffer) Push(f model.Feature, data map[string]any) error {
	rb.mu.Lock()
	head := rb.head
	if head-atomic.LoadUint64(&rb.tail) >= rb.size {
		rb.mu.Unlock()
		atomic.AddUint64(&rb.dropped, 1)
		return ErrBufferFull
	}
	rb.data[head&rb.mask] = envelope{feature: f, data: data}
	atomic.StoreUint64(&rb.head, head+1)
	rb.mu.Unlock()

	select {
	case rb.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest item. ok is false when the buffer is empty.
func (rb *RingBuffer) Pop() (f model.Feature, data map[string]any, ok bool) {
	tail := atomic.LoadUint64(&rb.tail)
	head := atomic.LoadUint64(&rb.head)

	if tail == head {
		return "", nil, false
	}

	slot := &rb.data[tail&rb.mask]
	f, data = slot.feature, slot.data
	*slot = envelope{}

	atomic.StoreUint64(&rb.tail, tail+1)
	return f, data, true
}

// Ready is signalled when items may be available.
func (rb *RingBuffer) Ready() <-chan struct{} {
	return rb.ready
}

// DroppedCount returns the number of dropped events.
func (rb *RingBuffer) DroppedCount() uint64 {
	return atomic.LoadUint64(&rb.dropped)
}

// Usage returns the number of items currently in the buffer.
func (rb *RingBuffer) Usage() uint64 {
	return atomic.LoadUint64(&rb.head) - atomic.LoadUint64(&rb.tail)
}

// Capacity returns the total size of the buffer.
func (rb *RingBuffer) Capacity() uint64 {
	return rb.size
}
