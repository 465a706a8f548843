package progress

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("progress queue is closed")

// Suggested per-frame drain caps so one consumer pass stays bounded
// while a driver keeps producing.
const (
	ScanFrameSize  = 500
	TailFrameSize  = 200
	WatchFrameSize = 20
)

const initialCapacity = 64

// Queue is an unbounded FIFO carrying progress messages from a driver
// goroutine to its consumer. Push never blocks and never drops; the
// ring grows by doubling when full, keeping a power-of-two capacity
// for index masking. Consumers drain in bounded batches.
type Queue[T any] struct {
	mu   sync.Mutex
	buf  []T
	head uint64
	tail uint64
	mask uint64

	closed bool
	done   chan struct{}

	pushed  uint64
	drained uint64
	maxLen  int

	notEmpty chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	size := nextPowerOfTwo(initialCapacity)
	return &Queue[T]{
		buf:      make([]T, size),
		mask:     size - 1,
		done:     make(chan struct{}),
		notEmpty: make(chan struct{}, 1),
	}
}

// Push appends one message. Pushing to a closed queue is a no-op.
func (q *Queue[T]) Push(msg T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if q.tail-q.head == uint64(len(q.buf)) {
		q.grow()
	}
	q.buf[q.tail&q.mask] = msg
	q.tail++
	q.pushed++
	if n := int(q.tail - q.head); n > q.maxLen {
		q.maxLen = n
	}

	// Wake one blocked consumer. The channel is buffered so a missed
	// send just means a wakeup is already pending.
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// grow doubles the ring, re-slotting live entries so the head index
// stays valid under the new mask. Caller holds mu.
func (q *Queue[T]) grow() {
	old := q.buf
	oldMask := q.mask
	size := uint64(len(old)) * 2
	buf := make([]T, size)
	for i := q.head; i < q.tail; i++ {
		buf[i&(size-1)] = old[i&oldMask]
	}
	q.buf = buf
	q.mask = size - 1
}

// Poll removes and returns one message without blocking.
func (q *Queue[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == q.tail {
		return zero, false
	}
	msg := q.buf[q.head&q.mask]
	q.buf[q.head&q.mask] = zero // clear reference for GC
	q.head++
	q.drained++
	return msg, true
}

// Drain removes up to max messages without blocking. max <= 0 drains
// everything queued at call time.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int(q.tail - q.head)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}

	var zero T
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.buf[q.head&q.mask])
		q.buf[q.head&q.mask] = zero
		q.head++
	}
	q.drained += uint64(n)
	return out
}

// Next blocks until a message is available. It returns ErrQueueClosed
// once the queue is closed and fully drained, or the context error if
// the context ends first.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if msg, ok := q.Poll(); ok {
			return msg, nil
		}

		q.mu.Lock()
		finished := q.closed && q.head == q.tail
		q.mu.Unlock()
		if finished {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notEmpty:
		case <-q.done:
			// Loop once more to drain anything pushed before close.
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close marks the queue complete. Queued messages remain drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued messages.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// QueueMetrics holds queue statistics
type QueueMetrics struct {
	Pushed  uint64
	Drained uint64
	Len     int
	MaxLen  int
}

// Metrics returns queue statistics.
func (q *Queue[T]) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueMetrics{
		Pushed:  q.pushed,
		Drained: q.drained,
		Len:     int(q.tail - q.head),
		MaxLen:  q.maxLen,
	}
}

// nextPowerOfTwo returns the next power of 2 greater than or equal to n
func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
