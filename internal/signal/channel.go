package signal

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrorPoisoned = errors.New("channel is poisoned")
	ErrorClosed   = errors.New("channel is closed")
)

// Channel is an unbounded mailbox with a blocking receive.
//
// Values are delivered in FIFO order: with several values pending a receiver
// always gets the oldest one, so no intermediate value is skipped. Each sent
// value is observed by exactly one receiver.
type Channel[T any] struct {
	mutex    sync.Mutex
	cond     *sync.Cond
	queue    []T
	closed   bool
	poisoned bool
}

func NewChannel[T any]() *Channel[T] {
	channel := &Channel[T]{}
	channel.cond = sync.NewCond(&channel.mutex)
	return channel
}

// Send appends the value and wakes one waiting receiver. It never blocks
// beyond the critical section.
func (channel *Channel[T]) Send(value T) error {
	err := channel.critical(func() error {
		if channel.closed {
			return ErrorClosed
		}

		channel.queue = append(channel.queue, value)

		return nil
	})
	if err != nil {
		return err
	}

	channel.cond.Signal()

	return nil
}

// Receive blocks until a value is available and removes it.
func (channel *Channel[T]) Receive() (T, error) {
	return channel.ReceiveContext(context.Background())
}

// ReceiveContext is like Receive but gives up when ctx is done. A pending
// value is always preferred over the cancellation.
func (channel *Channel[T]) ReceiveContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, channel.wake)
	defer stop()

	var value T
	err := channel.critical(func() error {
		for len(channel.queue) == 0 {
			if channel.poisoned {
				return ErrorPoisoned
			}

			if channel.closed {
				return ErrorClosed
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			channel.cond.Wait()
		}

		value = channel.queue[0]

		var zero T
		channel.queue[0] = zero
		channel.queue = channel.queue[1:]

		return nil
	})

	return value, err
}

// Len returns the number of pending values.
func (channel *Channel[T]) Len() int {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	return len(channel.queue)
}

// Close rejects further sends and releases every waiter once the pending
// values are drained.
func (channel *Channel[T]) Close() {
	channel.mutex.Lock()
	channel.closed = true
	channel.mutex.Unlock()

	channel.cond.Broadcast()
}

func (channel *Channel[T]) Poisoned() bool {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	return channel.poisoned
}

func (channel *Channel[T]) wake() {
	channel.mutex.Lock()
	channel.cond.Broadcast()
	channel.mutex.Unlock()
}

// critical runs fn with the guard held. A panic escaping fn leaves the queue
// in an unknown state, so the channel is poisoned before the panic goes on.
func (channel *Channel[T]) critical(fn func() error) (err error) {
	channel.mutex.Lock()

	if channel.poisoned {
		channel.mutex.Unlock()
		return ErrorPoisoned
	}

	completed := false
	defer func() {
		if !completed {
			channel.poisoned = true
			channel.cond.Broadcast()
		}

		channel.mutex.Unlock()
	}()

	err = fn()
	completed = true

	return err
}
