package asyncq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countdown is a future that self-wakes n times before completing with
// the number of polls it took.
type countdown struct {
	remaining int
	polls     int
}

func (c *countdown) Poll(w Waker) (int, bool) {
	c.polls++
	if c.remaining > 0 {
		c.remaining--
		w()
		return 0, false
	}
	return c.polls, true
}

func TestRunLoopRunsSpawnedTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rl := NewRunLoop(64)
	go rl.Run()
	defer rl.Shutdown()

	h := Spawn[int](rl, &countdown{remaining: 5})
	v, err := h.JoinCtx(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, v)
}

func TestRunLoopManyTasks(t *testing.T) {
	const tasks = 100

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rl := NewRunLoop(256)
	go rl.Run()
	defer rl.Shutdown()

	handles := make([]*JoinHandle[int], tasks)
	for i := range handles {
		handles[i] = Spawn[int](rl, &countdown{remaining: i % 7})
	}
	for i, h := range handles {
		v, err := h.JoinCtx(ctx)
		require.NoError(t, err)
		require.Equal(t, i%7+1, v)
	}

	require.Equal(t, uint64(tasks), rl.bound.Load())
	require.Equal(t, uint64(tasks), rl.released.Load())
}

func TestRunLoopShutdownCancelsQueued(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rl := NewRunLoop(16)

	h1 := Spawn[int](rl, &countdown{remaining: 1})
	h2 := Spawn[int](rl, &countdown{remaining: 1})

	rl.Shutdown()
	rl.Run() // drains the queue, cancelling everything still on it

	for _, h := range []*JoinHandle[int]{h1, h2} {
		_, err := h.JoinCtx(ctx)
		var jerr *JoinError
		require.ErrorAs(t, err, &jerr)
		require.True(t, jerr.Cancelled())
	}
}

func TestRunLoopScheduleAfterShutdownCancels(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rl := NewRunLoop(16)
	rl.Shutdown()

	h := Spawn[int](rl, &countdown{})
	_, err := h.JoinCtx(ctx)
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	require.True(t, jerr.Cancelled())
}

func TestRunLoopDepthValidation(t *testing.T) {
	require.Panics(t, func() { NewRunLoop(0) })
	require.Panics(t, func() { NewRunLoop(100) })
}

// Tasks exchanging values over a bounded channel, all driven by one
// loop plus plain goroutines on the send side.
func TestRunLoopWithChannel(t *testing.T) {
	const N = 1000

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rl := NewRunLoop(64)
	go rl.Run()
	defer rl.Shutdown()

	tx, rx := Bounded[int](8)

	go func() {
		defer tx.Close()
		for i := 0; i < N; i++ {
			if err := tx.SendCtx(ctx, i); err != nil {
				return
			}
		}
	}()

	// The receiving side runs as a task: sum everything until the
	// channel closes.
	sum := 0
	h := Spawn[int](rl, FutureFunc[int](func(w Waker) (int, bool) {
		for {
			v, st := rx.PollRecv(w)
			switch st {
			case RecvValue:
				sum += v
			case RecvClosed:
				return sum, true
			default:
				return 0, false
			}
		}
	}))

	v, err := h.JoinCtx(ctx)
	require.NoError(t, err)
	require.Equal(t, N*(N-1)/2, v)
}
