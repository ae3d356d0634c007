package asyncq

import (
	"context"
	"sync/atomic"
)

// RecvState is the outcome of a single receive poll.
type RecvState uint8

const (
	// RecvPending: no value ready; the waker was registered.
	RecvPending RecvState = iota
	// RecvValue: a value was taken.
	RecvValue
	// RecvClosed: every sender is gone and the queue is drained, or the
	// receiver closed its side and no capacity is outstanding. Terminal:
	// later polls report it again, never RecvPending.
	RecvClosed
)

// chanInner is the one allocation shared by every Tx handle and the
// single Rx handle. The tx-side fields are pure atomics; rxList and
// rxClosed are receiver-private and touched by one goroutine by
// construction (the Rx handle is not duplicable), not by locking.
type chanInner[T any] struct {
	tx      listTx[T]
	sem     semaphore
	rxWaker atomicWaker

	_       [64]byte
	txCount atomic.Int64 // live sender handles; zero closes the send half
	_       [64]byte

	rxList   listRx[T]
	rxClosed bool
}

// Tx is a sender handle. Handles are cheap to Clone; each must be
// Closed when no longer used — the last Close closes the channel.
// A Tx must not be used from multiple goroutines concurrently (its
// permit is handle-local state); clone one per goroutine instead.
type Tx[T any] struct {
	inner  *chanInner[T]
	permit *permit
	closed bool
}

// Rx is the single receiver handle. All receive operations must come
// from one goroutine at a time.
type Rx[T any] struct {
	inner *chanInner[T]
}

// Bounded creates an MPSC channel holding at most capacity unconsumed
// values; sends past that suspend until the receiver catches up.
func Bounded[T any](capacity int) (*Tx[T], *Rx[T]) {
	return channel[T](newBoundedSemaphore(int64(capacity)))
}

// Unbounded creates an MPSC channel with no backpressure: sends always
// succeed while the receiver is live.
func Unbounded[T any]() (*Tx[T], *Rx[T]) {
	return channel[T](&unboundedSemaphore{})
}

func channel[T any](sem semaphore) (*Tx[T], *Rx[T]) {
	inner := &chanInner[T]{sem: sem}
	newList(&inner.tx, &inner.rxList)
	inner.txCount.Store(1)
	return &Tx[T]{inner: inner, permit: sem.newPermit()}, &Rx[T]{inner: inner}
}

// ===== Tx =====

// Clone returns a new independent sender handle sharing the channel.
func (t *Tx[T]) Clone() *Tx[T] {
	if t.closed {
		panic("asyncq: clone of a closed sender")
	}
	t.inner.txCount.Add(1)
	return &Tx[T]{inner: t.inner, permit: t.inner.sem.newPermit()}
}

// Close drops this sender handle, returning any unspent reservation.
// The last handle's Close closes the send half: once the receiver
// drains everything already published it observes RecvClosed. Every
// value this handle sent is published before the count decrement, so
// observing the closed channel implies those values are visible.
func (t *Tx[T]) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.inner.sem.dropPermit(t.permit)
	if t.inner.txCount.Add(-1) == 0 {
		t.inner.rxWaker.wake()
	}
}

// TrySend publishes v without suspending. ErrFull when a bounded
// channel is at capacity, ErrClosed when the receiver is gone; either
// way v stays with the caller.
func (t *Tx[T]) TrySend(v T) error {
	if t.closed {
		panic("asyncq: send on a closed sender")
	}
	if err := t.inner.sem.tryAcquire(t.permit); err != nil {
		return err
	}
	t.push(v)
	return nil
}

// PollReady reserves capacity for one send. When it must suspend it
// registers w and returns (false, nil); the reservation completes on a
// later call after w fires. ErrClosed when the receiver is gone.
func (t *Tx[T]) PollReady(w Waker) (bool, error) {
	if t.closed {
		panic("asyncq: send on a closed sender")
	}
	return t.inner.sem.pollAcquire(w, t.permit)
}

// Send publishes v using the reservation obtained by PollReady.
// Calling it without a ready permit is a contract violation.
func (t *Tx[T]) Send(v T) {
	if t.closed {
		panic("asyncq: send on a closed sender")
	}
	if !t.permit.acquired {
		panic("asyncq: Send without a ready permit")
	}
	t.push(v)
}

// SendCtx publishes v, blocking the goroutine while the channel is at
// capacity. On ctx expiry the pending reservation is returned and v
// stays with the caller.
func (t *Tx[T]) SendCtx(ctx context.Context, v T) error {
	wc := newWaitCell()
	for {
		ok, err := t.PollReady(wc.waker())
		if err != nil {
			return err
		}
		if ok {
			t.push(v)
			return nil
		}
		if err := wc.wait(ctx); err != nil {
			t.inner.sem.dropPermit(t.permit)
			return err
		}
	}
}

// push writes the value into the list, converts the permit into owed
// capacity and wakes the receiver. The ready-bit set inside list push
// is the publication point.
func (t *Tx[T]) push(v T) {
	t.inner.tx.push(v)
	t.inner.sem.forget(t.permit)
	t.inner.rxWaker.wake()
}

// ===== Rx =====

// PollRecv takes the next value if one is published. Otherwise it
// registers w and reports RecvPending, or RecvClosed once the channel
// can never produce another value. Single consumer goroutine only.
func (r *Rx[T]) PollRecv(w Waker) (T, RecvState) {
	in := r.inner

	if v, ok := r.take(); ok {
		return v, RecvValue
	}

	in.rxWaker.register(w)

	// A send may have completed between the failed take and the
	// registration; checking again closes that race.
	if v, ok := r.take(); ok {
		return v, RecvValue
	}

	var zero T
	if in.txCount.Load() == 0 {
		// Count zero makes every prior send visible, so the earlier
		// failed take may be stale: drain once more before going
		// terminal. The count never rises again, so RecvClosed is
		// reported on every later call too.
		if v, ok := r.take(); ok {
			return v, RecvValue
		}
		return zero, RecvClosed
	}
	if in.rxClosed && in.sem.isIdle() {
		return zero, RecvClosed
	}
	return zero, RecvPending
}

func (r *Rx[T]) take() (T, bool) {
	v, ok := r.inner.rxList.pop(&r.inner.tx)
	if ok {
		r.inner.sem.addPermit()
	}
	return v, ok
}

// RecvCtx blocks the goroutine until a value arrives, the channel
// closes (ErrClosed) or ctx expires.
func (r *Rx[T]) RecvCtx(ctx context.Context) (T, error) {
	wc := newWaitCell()
	for {
		v, st := r.PollRecv(wc.waker())
		switch st {
		case RecvValue:
			return v, nil
		case RecvClosed:
			var zero T
			return zero, ErrClosed
		}
		if err := wc.wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
}

// Close shuts the receive half. Blocked and future sends fail with
// ErrClosed immediately; reservations already held may still be spent,
// and everything already published can still be received — PollRecv
// reports RecvClosed only once no capacity is outstanding.
func (r *Rx[T]) Close() {
	if r.inner.rxClosed {
		return
	}
	r.inner.rxClosed = true
	r.inner.sem.close()
}
