package asyncq

import "sync/atomic"

// atomicWaker is a single-slot waker cell: the last registration wins.
// register replaces any prior registration; wake consumes and invokes
// whatever is currently registered, a no-op when the slot is empty.
//
// A registration that races with a concurrent wake can be consumed by
// that wake or replace an already-consumed slot; callers close that
// window by re-checking their readiness condition after register.
type atomicWaker struct {
	w atomic.Pointer[Waker]
}

func (a *atomicWaker) register(w Waker) {
	a.w.Store(&w)
}

func (a *atomicWaker) wake() {
	if w := a.w.Swap(nil); w != nil {
		(*w)()
	}
}
