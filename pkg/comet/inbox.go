package comet

import (
	"sync"

	"github.com/saker-ai/cometrpc/internal/transport/comet/codec"
)

// inbox is the unbounded FIFO between a connection's read goroutine and its
// dispatch goroutine. push never blocks.
type inbox struct {
	mu     sync.Mutex
	items  []codec.Message
	closed bool
	signal chan struct{}
}

func newInbox(capacity int) *inbox {
	return &inbox{
		items:  make([]codec.Message, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// push appends msg and returns the backlog including it.
func (q *inbox) push(msg codec.Message) int {
	q.mu.Lock()
	q.items = append(q.items, msg)
	n := len(q.items)
	q.mu.Unlock()
	q.wake()
	return n
}

// close lets next return false once the queued messages are drained.
func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// next blocks until a message is queued. It reports false when the inbox is
// closed and empty.
func (q *inbox) next() (codec.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = codec.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return codec.Message{}, false
		}
		<-q.signal
	}
}

func (q *inbox) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
