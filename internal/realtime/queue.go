package realtime

import "sync"

// frameQueue is a thread-safe FIFO queue of frames for one subscription.
//
// The queue is unbounded so a slow consumer never blocks a publisher.
// A buffered signal channel of size 1 enables context-aware waiting.
type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	signal chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{
		frames: make([][]byte, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a frame to the back of the queue.
// Returns false if the queue is closed.
func (q *frameQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.frames = append(q.frames, frame)

	// Non-blocking; the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front frame without blocking.
// closed is true once the queue is closed and drained.
func (q *frameQueue) TryDequeue() (frame []byte, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false, q.closed
	}

	frame = q.frames[0]
	q.frames[0] = nil
	if len(q.frames) == 1 {
		q.frames = q.frames[:0]
	} else {
		q.frames = q.frames[1:]
	}
	return frame, true, false
}

// Wait returns a channel that signals when frames may be available.
// The channel is closed when the queue closes.
func (q *frameQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close stops accepting frames and wakes waiters.
// Frames already queued can still be dequeued.
func (q *frameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
