package asyncq

import "sync/atomic"

// listTx is the producer half of the block list, shared by every
// sender. Producers claim absolute slot indices from tailPosition and
// race to grow the block chain on demand; all of it is atomics, no
// locks on the push path.
type listTx[T any] struct {
	// Padding keeps the two producer-hot words and the consumer-updated
	// anchor off each other's cache lines.
	_            [64]byte
	tailPosition atomic.Uint64 // next absolute slot index to claim
	_            [64]byte
	blockTail    atomic.Pointer[block[T]] // hint: last allocated block
	_            [64]byte
	blockHead    atomic.Pointer[block[T]] // trails the consumer cursor; fallback anchor
	_            [64]byte
	allocated    atomic.Uint64 // blocks allocated over the list's lifetime
}

// listRx is the consumer half. A single goroutine owns it by
// construction, so its fields need no synchronization; only the ready
// bits cross the producer/consumer boundary.
type listRx[T any] struct {
	head    *block[T] // block holding the cursor slot
	index   uint64    // absolute index of the next slot to read
	retired uint64    // blocks detached and released by the consumer

	// Drain stats: distinguishes "nothing was ever sent here" from
	// "a producer claimed the slot but has not published yet".
	emptyReads        uint64
	intermediateReads uint64
}

// newList builds the shared first block and both halves' views of it.
func newList[T any](tx *listTx[T], rx *listRx[T]) {
	first := newBlock[T](0)
	tx.blockTail.Store(first)
	tx.blockHead.Store(first)
	tx.allocated.Store(1)
	rx.head = first
}

// push claims the next slot, resolves its block (growing the chain when
// needed) and publishes the value. Callable from any number of
// goroutines concurrently.
func (l *listTx[T]) push(v T) {
	index := l.tailPosition.Add(1) - 1
	l.findBlock(index).write(index, v)
}

// findBlock resolves the block owning the absolute index.
//
// The walk starts at the blockTail hint. The hint can be ahead of the
// target: another producer with a later index may have grown the chain
// past us while we were stalled. In that case restart from blockHead,
// which cannot be ahead — the consumer advances it only past blocks
// whose every slot was published, and our slot is not published yet.
func (l *listTx[T]) findBlock(index uint64) *block[T] {
	start := index & blockMask

	b := l.blockTail.Load()
	if b.startIndex > start {
		b = l.blockHead.Load()
	}
	for b.startIndex != start {
		next := b.next.Load()
		if next == nil {
			next = l.grow(b)
		}
		b = next
	}
	return b
}

// grow links a fresh block after b. Losers of the CAS race discard
// their speculative allocation and use the winner's block.
func (l *listTx[T]) grow(b *block[T]) *block[T] {
	nb := newBlock[T](b.startIndex + blockCap)
	if !b.next.CompareAndSwap(nil, nb) {
		return b.next.Load()
	}
	l.allocated.Add(1)

	// Advance the tail hint so later producers start their walk near
	// the end of the chain. Monotonic: never move it backwards.
	for {
		cur := l.blockTail.Load()
		if cur.startIndex >= nb.startIndex || l.blockTail.CompareAndSwap(cur, nb) {
			return nb
		}
	}
}

// pop takes the value at the consumer cursor, if published. Once a
// block is fully drained it is detached and released — only the
// consumer ever frees blocks, and producers never dereference a
// detached block beyond its next pointer, which is never written after
// detachment.
//
// Single consumer goroutine only.
func (r *listRx[T]) pop(tx *listTx[T]) (T, bool) {
	var zero T

	b := r.head
	offset := r.index - b.startIndex
	if offset == blockCap {
		next := b.next.Load()
		if next == nil {
			// The cursor sits one past the last allocated slot; nothing
			// can be published until a producer grows the chain.
			r.emptyReads++
			return zero, false
		}
		tx.blockHead.Store(next)
		r.head = next
		r.retired++
		b = next
		offset = 0
	}

	if !b.isReady(offset) {
		if r.index < b.observedTail {
			// Claimed but not yet published: producer mid-write.
			r.intermediateReads++
			return zero, false
		}
		b.observedTail = tx.tailPosition.Load()
		if r.index < b.observedTail {
			r.intermediateReads++
		} else {
			r.emptyReads++
		}
		return zero, false
	}

	v := b.read(offset)
	r.index++
	return v, true
}
