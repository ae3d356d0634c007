package asyncq

import (
	"context"
	"fmt"
)

// JoinError signals that a task's output will never be delivered: the
// task was cancelled before running, or its future panicked instead of
// completing.
type JoinError struct {
	cancelled bool
	payload   any
}

func (e *JoinError) Error() string {
	if e.cancelled {
		return "task was cancelled"
	}
	return fmt.Sprintf("task panicked: %v", e.payload)
}

// Cancelled reports whether the task was cancelled before completion.
func (e *JoinError) Cancelled() bool { return e.cancelled }

// Panicked returns the recovered panic payload, if the task failed that
// way.
func (e *JoinError) Panicked() (any, bool) {
	if e.cancelled {
		return nil, false
	}
	return e.payload, true
}

// taskCell is the typed task allocation: the Task header plus the
// future and, after completion, its outcome. One heap allocation per
// spawned future.
type taskCell[T any] struct {
	task   Task
	future Future[T]
	output T
	err    *JoinError
}

func (c *taskCell[T]) pollFuture(w Waker) (done bool) {
	defer func() {
		if p := recover(); p != nil {
			c.future = nil
			c.err = &JoinError{payload: p}
			done = true
		}
	}()
	v, ok := c.future.Poll(w)
	if ok {
		c.output = v
		c.future = nil
		done = true
	}
	return
}

func (c *taskCell[T]) cancel() {
	c.future = nil
	c.err = &JoinError{cancelled: true}
}

// JoinHandle observes a task's eventual output. It does not own the
// task's execution: dropping or detaching the handle leaves the task
// running (see Detach).
type JoinHandle[T any] struct {
	cell *taskCell[T]
}

// Poll reports the task's outcome. While the task is not complete it
// registers w and returns done == false. On completion it returns the
// stored output — or a *JoinError — exactly once; the handle is spent
// afterwards and must not be polled again.
func (h *JoinHandle[T]) Poll(w Waker) (v T, done bool, err error) {
	c := h.cell
	if c == nil {
		panic("asyncq: JoinHandle polled after the outcome was taken")
	}
	t := &c.task

	if t.state.Load() != taskComplete {
		t.join.register(w)
		// Completion may have landed between the check and the
		// registration.
		if t.state.Load() != taskComplete {
			return v, false, nil
		}
	}

	h.cell = nil
	out, jerr := c.output, c.err
	t.DropRef()
	if jerr != nil {
		return v, true, jerr
	}
	return out, true, nil
}

// JoinCtx blocks the goroutine until the task completes or ctx expires.
func (h *JoinHandle[T]) JoinCtx(ctx context.Context) (T, error) {
	wc := newWaitCell()
	for {
		v, done, err := h.Poll(wc.waker())
		if done {
			return v, err
		}
		if err := wc.wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
}

// Detach gives up observing the task. The task itself keeps running to
// completion under its scheduler.
func (h *JoinHandle[T]) Detach() {
	c := h.cell
	if c == nil {
		return
	}
	h.cell = nil
	c.task.DropRef()
}
