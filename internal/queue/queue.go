package queue

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Push after Close and by Pop once a closed queue is drained
var ErrClosed = errors.New("delivery queue closed")

// Policy decides what Push does when the queue is at capacity
type Policy int

const (
	// DropOldest discards the head of the queue to admit the new datagram
	DropOldest Policy = iota
	// Block makes the producer wait for a free slot
	Block
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// ParsePolicy converts a configuration value into a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop_oldest", "":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("unknown queue policy '%s'", s)
	}
}

// Datagram is a payload awaiting broadcast together with the endpoint it came from.
// A zero Origin means the relay itself produced the payload.
type Datagram struct {
	Payload  []byte
	Origin   netip.AddrPort
	Received time.Time
}

// Queue is a bounded FIFO of datagrams between the receiver and the broadcaster
type Queue struct {
	items  chan Datagram
	policy Policy

	// serializes producers so drop-oldest eviction and insertion happen together
	pushMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once

	pushed  atomic.Uint64
	dropped atomic.Uint64

	onDrop func(Datagram)
}

// New creates a queue with the given capacity and overflow policy
func New(capacity int, policy Policy) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:  make(chan Datagram, capacity),
		policy: policy,
		closed: make(chan struct{}),
	}
}

// OnDrop sets a callback invoked with each evicted datagram.
// It must be set before the queue is shared between goroutines.
func (q *Queue) OnDrop(fn func(Datagram)) {
	q.onDrop = fn
}

// Push appends a datagram. With DropOldest it never blocks; with Block it waits
// for space until ctx is done.
func (q *Queue) Push(ctx context.Context, d Datagram) error {
	if q.isClosed() {
		return ErrClosed
	}

	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	if q.policy == Block {
		select {
		case q.items <- d:
			q.pushed.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return ErrClosed
		}
	}

	for {
		select {
		case q.items <- d:
			q.pushed.Add(1)
			return nil
		default:
		}

		// Full: evict the head. The consumer may have emptied a slot meanwhile.
		select {
		case evicted := <-q.items:
			q.dropped.Add(1)
			if q.onDrop != nil {
				q.onDrop(evicted)
			}
		default:
		}
	}
}

// Pop blocks until a datagram is available, ctx is done, or the queue is closed and drained
func (q *Queue) Pop(ctx context.Context) (Datagram, error) {
	select {
	case d := <-q.items:
		return d, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case <-q.closed:
		select {
		case d := <-q.items:
			return d, nil
		default:
			return Datagram{}, ErrClosed
		}
	}
}

// Close stops accepting new datagrams; queued ones can still be popped
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Len returns the number of queued datagrams
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Policy returns the overflow policy
func (q *Queue) Policy() Policy {
	return q.policy
}

// Pushed returns the number of datagrams accepted so far
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of datagrams evicted by DropOldest
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
