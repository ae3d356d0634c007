package asyncq

import "sync/atomic"

// blockCap is the number of slots per block. It must not exceed 64 so
// that one readySlots word can carry a bit per slot.
const blockCap = 32

// blockMask strips the slot offset from an absolute index, yielding the
// startIndex of the block that owns it.
const blockMask = ^uint64(blockCap - 1)

// block is one fixed-capacity segment of the channel's backing store.
// Blocks form a singly linked list; next is advanced exclusively by
// compare-and-swap (producers racing to grow the chain) and read by
// everyone. Slot i belongs to the block with startIndex <= i <
// startIndex+blockCap.
type block[T any] struct {
	// Absolute index of the first slot in this block. Immutable.
	startIndex uint64

	// Next block in the chain. Never written again once the consumer
	// detaches this block, so lagging producers may keep walking it.
	next atomic.Pointer[block[T]]

	// One bit per slot, set exactly once when the slot's value is fully
	// written. The set is the publication point: the consumer's load of
	// the bit pairs with it and makes the value write visible.
	readySlots atomic.Uint64

	// Consumer-local cache of the shared tail position, refreshed when
	// the consumer finds an unready slot. Lets the consumer tell a
	// claimed-but-unpublished slot from a truly empty queue without
	// re-reading the shared counter.
	observedTail uint64

	values [blockCap]T
}

func newBlock[T any](startIndex uint64) *block[T] {
	return &block[T]{startIndex: startIndex}
}

// write stores v into the slot at the absolute index and publishes it.
// The caller must own the index (claimed via the shared tail counter)
// and the index must belong to this block.
func (b *block[T]) write(index uint64, v T) {
	offset := index - b.startIndex
	b.values[offset] = v
	for {
		old := b.readySlots.Load()
		if b.readySlots.CompareAndSwap(old, old|(1<<offset)) {
			break
		}
	}
}

// isReady reports whether the slot at offset has been published.
func (b *block[T]) isReady(offset uint64) bool {
	return b.readySlots.Load()&(1<<offset) != 0
}

// read takes the value at offset and clears the slot so the referenced
// object becomes collectable. Consumer only; the ready bit must have
// been observed set.
func (b *block[T]) read(offset uint64) T {
	v := b.values[offset]
	var zero T
	b.values[offset] = zero
	return v
}
