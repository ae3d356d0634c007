// Package asyncq provides the concurrency core of a poll-based
// asynchronous runtime: a reference-counted task cell with a pluggable
// scheduler contract, and a lock-free block-structured MPSC channel
// with pluggable backpressure.
//
// Tasks and channel operations never block the calling goroutine on the
// poll paths. Suspension is expressed by registering a Waker and
// returning a not-ready indication; the ctx-taking convenience wrappers
// (SendCtx, RecvCtx, JoinCtx) bridge that to ordinary goroutine
// blocking.
package asyncq

import "context"

// Waker is a callback capability. Invoking it causes the suspended poll
// that registered it to be reconsidered. A Waker may be invoked from
// any goroutine, any number of times; extra invocations are harmless.
type Waker func()

// Future is a unit of asynchronous work driven by repeated polls.
// Poll either completes with a value (done == true), or arranges for w
// to be invoked once progress is possible and returns done == false.
//
// A Future is polled by at most one goroutine at a time.
type Future[T any] interface {
	Poll(w Waker) (v T, done bool)
}

// FutureFunc adapts a plain function to the Future interface.
type FutureFunc[T any] func(w Waker) (T, bool)

func (f FutureFunc[T]) Poll(w Waker) (T, bool) { return f(w) }

// waitCell bridges poll-style suspension to goroutine blocking. Its
// waker deposits a token into a 1-buffered channel; wait blocks on the
// token or on ctx. Spurious tokens only cost an extra poll.
type waitCell struct {
	ch chan struct{}
}

func newWaitCell() *waitCell {
	return &waitCell{ch: make(chan struct{}, 1)}
}

func (c *waitCell) waker() Waker {
	return func() {
		select {
		case c.ch <- struct{}{}:
		default:
		}
	}
}

func (c *waitCell) wait(ctx context.Context) error {
	select {
	case <-c.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
