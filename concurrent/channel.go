/*
WEFT
github.com/weftlabs/weft
*/

// Package concurrent provides the framework's concurrency substrate: a
// typed message channel with close-safe send semantics and a fixed-size
// task pool with a completion barrier and panic containment.
package concurrent

import (
	"errors"
	"sync"
)

var (
	// ErrClosedChannel is returned by Send/TrySend against a closed channel.
	ErrClosedChannel = errors.New("send on closed channel")

	// ErrTaskPanic is returned by Submit when the pool cannot accept work
	// (nil pool or already stopped). Panics inside running tasks are
	// contained by the workers and never surface as this error.
	ErrTaskPanic = errors.New("task pool cannot accept work")
)

// Channel is a typed FIFO queue with an optional buffer. Capacity 0 gives
// rendezvous semantics: Send returns only after a receiver has taken the
// value. Unlike a bare Go channel, sending after Close fails with
// ErrClosedChannel instead of panicking, and Close is idempotent.
type Channel[T any] struct {
	ch        chan T
	closeOnce sync.Once
}

// NewChannel creates a channel with the given capacity. Negative
// capacities are treated as zero (rendezvous).
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// Send enqueues v, blocking while the buffer is full (or, at capacity 0,
// until a receiver takes the value). It fails with ErrClosedChannel when
// the channel is closed, including a close that arrives while the send is
// blocked.
func (c *Channel[T]) Send(v T) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrClosedChannel
		}
	}()
	c.ch <- v
	return nil
}

// Receive dequeues the oldest value, blocking while the channel is empty.
// After Close it keeps draining buffered values in order; once empty it
// returns the zero value and false.
func (c *Channel[T]) Receive() (T, bool) {
	v, ok := <-c.ch
	return v, ok
}

// TrySend is the non-blocking Send. It reports whether the value was
// enqueued; a closed channel yields (false, ErrClosedChannel), a full
// buffer or absent receiver yields (false, nil).
func (c *Channel[T]) TrySend(v T) (sent bool, err error) {
	defer func() {
		if recover() != nil {
			sent, err = false, ErrClosedChannel
		}
	}()
	select {
	case c.ch <- v:
		return true, nil
	default:
		return false, nil
	}
}

// TryReceive is the non-blocking Receive. It returns (zero, false) when
// the channel is empty or closed and drained.
func (c *Channel[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-c.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Close marks the channel closed and wakes every blocked sender and
// receiver. Blocked and future senders fail with ErrClosedChannel;
// receivers drain the remaining buffer first. Calling Close again is a
// no-op.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// Len reports how many values are currently buffered.
func (c *Channel[T]) Len() int { return len(c.ch) }

// Cap reports the buffer capacity the channel was created with.
func (c *Channel[T]) Cap() int { return cap(c.ch) }
