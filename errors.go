package asyncq

import "fmt"

var (
	// ErrClosed reports that the peer half of the channel is gone: the
	// receiver was closed (send side) or every sender was dropped and the
	// queue has been drained (receive side).
	ErrClosed = fmt.Errorf("channel is closed")

	// ErrFull reports that a bounded channel is at capacity. Only the
	// non-suspending try paths return it; the rejected value stays with
	// the caller, so a retry is always possible.
	ErrFull = fmt.Errorf("channel is full")
)
