package asyncq

import "sync/atomic"

// Task lifecycle states. The tagged transition (not a boolean) is what
// lets a wake that lands mid-poll be folded into a re-schedule instead
// of being lost or triggering a second concurrent poll.
const (
	taskIdle uint32 = iota
	taskNotified
	taskRunning
	taskRunningNotified // wake arrived while the poll was in progress
	taskComplete
)

// Scheduler is the contract an executor implements to drive tasks.
type Scheduler interface {
	// Bind associates the task with this scheduler instance. It is
	// invoked exactly once, on the goroutine that performs the task's
	// first poll, before that poll.
	Bind(t *Task)

	// Schedule enqueues a runnable-task notification. The scheduler must
	// eventually run it; dropping a Notified loses a wake-up.
	Schedule(n *Notified)

	// Release is called when the task reaches completion. Return t to
	// hand ownership back so the caller drops the scheduler-held
	// reference outside any scheduler-internal lock, or return nil after
	// calling t.DropRef directly.
	Release(t *Task) *Task
}

// Yielder is optionally implemented by schedulers that want a task
// re-woken during its own poll pushed to the back of the run queue
// instead of re-entered immediately, bounding how long one task can
// monopolize a worker. Schedulers without it get plain Schedule.
type Yielder interface {
	YieldNow(n *Notified)
}

// Task is the ref-counted cell binding one future to a scheduler. Two
// references exist at creation: the scheduler side (carried by the
// Notified chain) and the JoinHandle. The cell is torn down when both
// are dropped.
//
// The future storage and state transitions are never touched by two
// goroutines at once: exclusivity comes from the state machine (at most
// one holder of the Running transition), not from a lock.
type Task struct {
	state atomic.Uint32
	refs  atomic.Int32
	sched atomic.Pointer[schedBox] // set once by bind
	core  taskCore
	join  atomicWaker // woken when the outcome is stored
}

type schedBox struct{ s Scheduler }

// taskCore is the type-erased view of the future harness.
type taskCore interface {
	// pollFuture drives the future one step, storing the outcome (value
	// or recovered panic) on completion.
	pollFuture(w Waker) (done bool)
	// cancel records a cancelled outcome without polling.
	cancel()
}

// Notified is a transient, single-use capability: its existence asserts
// the task is runnable and not concurrently scheduled anywhere else. It
// is consumed by exactly one Run (or Cancel).
type Notified struct {
	t *Task
}

// Joinable allocates the task cell for f. The task starts immediately
// runnable: hand the Notified to a scheduler and it will be polled. The
// JoinHandle retains a second reference that only ever reads the
// completion outcome.
func Joinable[T any](f Future[T]) (*Notified, *JoinHandle[T]) {
	c := &taskCell[T]{future: f}
	c.task.core = c
	c.task.refs.Store(2)
	c.task.state.Store(taskNotified)
	return &Notified{t: &c.task}, &JoinHandle[T]{cell: c}
}

// Spawn creates a task for f, schedules it on s and returns the handle
// observing its outcome.
func Spawn[T any](s Scheduler, f Future[T]) *JoinHandle[T] {
	n, h := Joinable(f)
	s.Schedule(n)
	return h
}

// Run consumes the capability and polls the task once on the calling
// goroutine. The first Run binds the task to s; every Run of one task
// must come from the scheduler it was first run on.
func (n *Notified) Run(s Scheduler) {
	t := n.t
	if t == nil {
		panic("asyncq: Notified consumed twice")
	}
	n.t = nil

	if !t.state.CompareAndSwap(taskNotified, taskRunning) {
		panic("asyncq: task polled while not notified")
	}
	if t.sched.Load() == nil {
		t.sched.Store(&schedBox{s: s})
		s.Bind(t)
	}

	if t.core.pollFuture(t.wake) {
		// Outcome stored by pollFuture; publish completion, then let the
		// join side and the scheduler's bookkeeping go.
		t.state.Store(taskComplete)
		t.join.wake()
		t.release()
		return
	}

	// Not ready. Return to idle — unless a wake raced the poll, in which
	// case fold it into an immediate re-schedule rather than losing it.
	for {
		switch t.state.Load() {
		case taskRunning:
			if t.state.CompareAndSwap(taskRunning, taskIdle) {
				return
			}
		case taskRunningNotified:
			t.state.Store(taskNotified)
			t.yield(&Notified{t: t})
			return
		default:
			panic("asyncq: task state corrupted during poll")
		}
	}
}

// Cancel consumes the capability without polling: the task completes
// with a cancelled JoinError. Used by schedulers tearing down their run
// queues.
func (n *Notified) Cancel() {
	t := n.t
	if t == nil {
		panic("asyncq: Notified consumed twice")
	}
	n.t = nil

	// Claim the Running transition so the outcome write is exclusive and
	// ordered before the Complete store.
	if !t.state.CompareAndSwap(taskNotified, taskRunning) {
		panic("asyncq: task cancelled while not notified")
	}
	t.core.cancel()
	t.state.Store(taskComplete)
	t.join.wake()

	if t.sched.Load() != nil {
		t.release()
	} else {
		// Never bound: there is no scheduler bookkeeping to release,
		// just the scheduler-side reference itself.
		t.DropRef()
	}
}

// wake transitions the task toward Notified. A wake while Idle
// schedules exactly one Notified; a wake while Running is folded into
// the Running→Notified transition after the poll; any other state
// already has a wake pending or cannot use one.
func (t *Task) wake() {
	for {
		switch t.state.Load() {
		case taskIdle:
			if t.state.CompareAndSwap(taskIdle, taskNotified) {
				t.scheduler().Schedule(&Notified{t: t})
				return
			}
		case taskRunning:
			if t.state.CompareAndSwap(taskRunning, taskRunningNotified) {
				return
			}
		default:
			return
		}
	}
}

func (t *Task) yield(n *Notified) {
	s := t.scheduler()
	if y, ok := s.(Yielder); ok {
		y.YieldNow(n)
		return
	}
	s.Schedule(n)
}

func (t *Task) scheduler() Scheduler {
	b := t.sched.Load()
	if b == nil {
		panic("asyncq: task not bound to a scheduler")
	}
	return b.s
}

// release performs the two-phase completion handoff: the scheduler
// either returns the task so the reference is dropped here, outside its
// internals, or drops it itself and returns nil.
func (t *Task) release() {
	if handed := t.scheduler().Release(t); handed != nil {
		handed.DropRef()
	}
}

// DropRef releases one of the task's references; the last one tears the
// cell down.
func (t *Task) DropRef() {
	n := t.refs.Add(-1)
	if n == 0 {
		t.core = nil
		t.sched.Store(nil)
		return
	}
	if n < 0 {
		panic("asyncq: task reference count underflow")
	}
}
