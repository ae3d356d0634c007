package asyncq

import (
	"sync"
	"sync/atomic"
)

// permit is one sender handle's capacity reservation. It is owned
// exclusively by that handle until the reservation is spent on a send
// (forget) or returned (dropPermit).
type permit struct {
	acquired bool
	wtr      *waiter // non-nil while queued on a bounded semaphore
}

// semaphore governs in-flight message capacity. The two variants are a
// capability-polymorphism point: send logic never branches on
// boundedness, it only speaks this interface.
type semaphore interface {
	newPermit() *permit

	// dropPermit returns an unspent reservation to the pool.
	dropPermit(p *permit)

	// isIdle reports that no capacity is outstanding; the receiver uses
	// it to confirm it is safe to report closed after it shut its side.
	isIdle() bool

	// addPermit restores the capacity owed by a consumed value.
	addPermit()

	// pollAcquire reserves capacity, registering w and returning
	// (false, nil) when it must suspend.
	pollAcquire(w Waker, p *permit) (bool, error)

	// tryAcquire reserves capacity without suspending; ErrFull when at
	// capacity, ErrClosed after close.
	tryAcquire(p *permit) error

	// forget marks an acquired permit as spent on a send. The capacity
	// becomes owed and is restored only by addPermit when the receiver
	// consumes the value.
	forget(p *permit)

	// close fails every blocked and future acquirer with ErrClosed.
	close()
}

// waiter is one suspended acquirer queued on a bounded semaphore.
type waiter struct {
	wake    Waker
	granted bool
	closed  bool
	next    *waiter
}

// boundedSemaphore does true capacity accounting: an atomic
// available-permit count on the fast path, a mutex-guarded FIFO waiter
// list when at capacity. Waiters exist only while available is zero,
// and releases hand capacity to the head waiter before replenishing the
// count, so acquirers cannot barge past the queue.
type boundedSemaphore struct {
	capacity  int64
	_         [64]byte
	available atomic.Int64
	closed    atomic.Bool
	_         [64]byte

	mu   sync.Mutex
	head *waiter
	tail *waiter
}

func newBoundedSemaphore(capacity int64) *boundedSemaphore {
	if capacity <= 0 {
		panic("asyncq: semaphore capacity must be > 0")
	}
	s := &boundedSemaphore{capacity: capacity}
	s.available.Store(capacity)
	return s
}

func (s *boundedSemaphore) newPermit() *permit { return &permit{} }

func (s *boundedSemaphore) tryFast() bool {
	for {
		avail := s.available.Load()
		if avail == 0 {
			return false
		}
		if s.available.CompareAndSwap(avail, avail-1) {
			return true
		}
	}
}

func (s *boundedSemaphore) tryAcquire(p *permit) error {
	if p.acquired {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if p.wtr != nil {
		// Queued by an earlier pollAcquire; the grant may have landed.
		return s.settleWaiter(p, nil)
	}
	if s.tryFast() {
		p.acquired = true
		return nil
	}
	return ErrFull
}

func (s *boundedSemaphore) pollAcquire(w Waker, p *permit) (bool, error) {
	if p.acquired {
		return true, nil
	}
	if s.closed.Load() && p.wtr == nil {
		return false, ErrClosed
	}
	if p.wtr != nil {
		err := s.settleWaiter(p, w)
		switch err {
		case nil:
			return true, nil
		case ErrFull:
			return false, nil
		default:
			return false, err
		}
	}
	if s.tryFast() {
		p.acquired = true
		return true, nil
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return false, ErrClosed
	}
	// Re-check under the lock: a release may have slipped in between the
	// fast path and the enqueue.
	if s.tryFast() {
		s.mu.Unlock()
		p.acquired = true
		return true, nil
	}
	wtr := &waiter{wake: w}
	if s.tail == nil {
		s.head = wtr
	} else {
		s.tail.next = wtr
	}
	s.tail = wtr
	p.wtr = wtr
	s.mu.Unlock()
	return false, nil
}

// settleWaiter resolves a previously queued reservation: take the grant
// if it landed, fail if the semaphore closed, otherwise re-register the
// waker (when given one) and report ErrFull to mean "still waiting".
func (s *boundedSemaphore) settleWaiter(p *permit, w Waker) error {
	s.mu.Lock()
	wtr := p.wtr
	switch {
	case wtr.granted:
		p.wtr = nil
		p.acquired = true
		s.mu.Unlock()
		return nil
	case wtr.closed:
		p.wtr = nil
		s.mu.Unlock()
		return ErrClosed
	default:
		if w != nil {
			wtr.wake = w // last registration wins
		}
		s.mu.Unlock()
		return ErrFull
	}
}

func (s *boundedSemaphore) dropPermit(p *permit) {
	if p.wtr != nil {
		s.mu.Lock()
		if p.wtr.granted {
			// The grant raced the drop; convert it so the capacity flows
			// back through the ordinary release path below.
			p.acquired = true
		} else if !p.wtr.closed {
			s.unlink(p.wtr)
		}
		p.wtr = nil
		s.mu.Unlock()
	}
	if p.acquired {
		p.acquired = false
		s.addPermit()
	}
}

func (s *boundedSemaphore) unlink(target *waiter) {
	var prev *waiter
	for w := s.head; w != nil; w = w.next {
		if w == target {
			if prev == nil {
				s.head = w.next
			} else {
				prev.next = w.next
			}
			if s.tail == w {
				s.tail = prev
			}
			return
		}
		prev = w
	}
}

func (s *boundedSemaphore) addPermit() {
	s.mu.Lock()
	if wtr := s.head; wtr != nil {
		s.head = wtr.next
		if s.head == nil {
			s.tail = nil
		}
		wtr.next = nil
		wtr.granted = true
		wake := wtr.wake
		s.mu.Unlock()
		if wake != nil {
			wake()
		}
		return
	}
	if s.available.Add(1) > s.capacity {
		panic("asyncq: semaphore released above capacity")
	}
	s.mu.Unlock()
}

func (s *boundedSemaphore) forget(p *permit) {
	if !p.acquired {
		panic("asyncq: forget of an unacquired permit")
	}
	p.acquired = false
}

func (s *boundedSemaphore) isIdle() bool {
	return s.available.Load() == s.capacity
}

func (s *boundedSemaphore) close() {
	s.mu.Lock()
	s.closed.Store(true)
	head := s.head
	s.head = nil
	s.tail = nil
	var wakes []Waker
	for w := head; w != nil; w = w.next {
		w.closed = true
		if w.wake != nil {
			wakes = append(wakes, w.wake)
		}
	}
	s.mu.Unlock()
	for _, wake := range wakes {
		wake()
	}
}

// unboundedSemaphore tracks no capacity: acquisition always succeeds
// until close, and isIdle is trivially false because there is no
// backpressure state to drain.
type unboundedSemaphore struct {
	closed atomic.Bool
}

func (s *unboundedSemaphore) newPermit() *permit { return &permit{} }

func (s *unboundedSemaphore) tryAcquire(p *permit) error {
	if s.closed.Load() {
		return ErrClosed
	}
	p.acquired = true
	return nil
}

func (s *unboundedSemaphore) pollAcquire(_ Waker, p *permit) (bool, error) {
	if err := s.tryAcquire(p); err != nil {
		return false, err
	}
	return true, nil
}

func (s *unboundedSemaphore) dropPermit(p *permit) { p.acquired = false }
func (s *unboundedSemaphore) addPermit()           {}
func (s *unboundedSemaphore) isIdle() bool         { return false }

func (s *unboundedSemaphore) forget(p *permit) {
	if !p.acquired {
		panic("asyncq: forget of an unacquired permit")
	}
	p.acquired = false
}

func (s *unboundedSemaphore) close() { s.closed.Store(true) }
