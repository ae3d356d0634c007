package asyncq

import (
	"runtime"
	"sync/atomic"
)

// runSlot is one entry of the run queue ring. seq controls slot
// ownership and publication, Vyukov style.
type runSlot struct {
	seq atomic.Uint64
	n   *Notified
}

// RunLoop is a minimal single-goroutine scheduler implementing the
// Scheduler contract. Notifications land on a bounded lock-free MPSC
// ring (wakers are the producers, the loop goroutine is the single
// consumer); the loop parks on a channel when the ring runs dry.
//
// The ring depth bounds the number of simultaneously runnable tasks;
// exceeding it is a contract violation and panics rather than dropping
// a wake-up.
type RunLoop struct {
	// Padding keeps producer and consumer cursors on separate cache
	// lines.
	_        [64]byte
	mask     uint64
	capacity uint64
	slots    []runSlot
	_        [64]byte
	enqueue  atomic.Uint64 // tail, updated by producers
	_        [64]byte
	dequeue  uint64 // head, updated by the loop goroutine only
	_        [64]byte

	park chan struct{}
	done atomic.Bool

	bound    atomic.Uint64
	released atomic.Uint64
	yields   uint64 // loop-goroutine-local
}

// NewRunLoop creates a run loop whose queue holds up to depth runnable
// tasks. Depth must be a power of two (1<<k).
func NewRunLoop(depth uint64) *RunLoop {
	if depth == 0 || (depth&(depth-1)) != 0 {
		panic("depth must be power of 2 and > 0")
	}

	slots := make([]runSlot, depth)
	for i := uint64(0); i < depth; i++ {
		slots[i].seq.Store(i)
	}

	rl := &RunLoop{
		mask:     depth - 1,
		capacity: depth,
		slots:    slots,
		park:     make(chan struct{}, 1),
	}
	return rl
}

// Bind implements Scheduler.
func (rl *RunLoop) Bind(*Task) {
	rl.bound.Add(1)
}

// Schedule implements Scheduler: enqueue the notification and unpark
// the loop. Callable from any goroutine.
func (rl *RunLoop) Schedule(n *Notified) {
	if rl.done.Load() {
		n.Cancel()
		return
	}
	for {
		pos := rl.enqueue.Load()
		s := &rl.slots[pos&rl.mask]

		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		if diff == 0 {
			if rl.enqueue.CompareAndSwap(pos, pos+1) {
				s.n = n
				// publish the slot: seq = pos+1
				s.seq.Store(pos + 1)
				rl.unpark()
				return
			}
			// contention, retry
		} else if diff < 0 {
			panic("asyncq: run queue overflow")
		} else {
			// slot still belongs to a previous cycle, retry
			runtime.Gosched()
		}
	}
}

// YieldNow implements Yielder: a task re-woken during its own poll goes
// to the back of the queue, letting everything already runnable go
// first.
func (rl *RunLoop) YieldNow(n *Notified) {
	rl.yields++
	rl.Schedule(n)
}

// Release implements Scheduler. The loop keeps no per-task bookkeeping
// beyond a counter, so it hands the task back for the caller to drop
// the reference.
func (rl *RunLoop) Release(t *Task) *Task {
	rl.released.Add(1)
	return t
}

// Run executes tasks until Shutdown. Exactly one goroutine may run it.
func (rl *RunLoop) Run() {
	for {
		n, ok := rl.pop()
		if !ok {
			if rl.done.Load() {
				return
			}
			<-rl.park
			continue
		}
		if rl.done.Load() {
			n.Cancel()
			continue
		}
		n.Run(rl)
	}
}

// Shutdown stops the loop. Tasks still queued are cancelled; their
// JoinHandles observe a cancelled JoinError. Schedules racing the
// shutdown are cancelled on a best-effort basis.
func (rl *RunLoop) Shutdown() {
	rl.done.Store(true)
	rl.unpark()
}

func (rl *RunLoop) unpark() {
	select {
	case rl.park <- struct{}{}:
	default:
	}
}

// pop takes the next notification. Loop goroutine only.
func (rl *RunLoop) pop() (*Notified, bool) {
	pos := rl.dequeue
	s := &rl.slots[pos&rl.mask]

	seq := s.seq.Load()
	diff := int64(seq) - int64(pos+1)

	if diff == 0 {
		rl.dequeue = pos + 1
		n := s.n
		s.n = nil
		// free the slot for the next cycle
		s.seq.Store(pos + rl.capacity)
		return n, true
	}

	// diff < 0: empty; diff > 0: producer mid-publish — either way the
	// unpark that follows the publish will get us back here.
	return nil, false
}
