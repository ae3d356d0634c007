package asyncq

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

// Basic sanity: sequential push/pop preserves FIFO order.
func TestListSequential(t *testing.T) {
	const N = 10_000

	var tx listTx[int]
	var rx listRx[int]
	newList(&tx, &rx)

	for i := 0; i < N; i++ {
		tx.push(i)
	}

	for i := 0; i < N; i++ {
		v, ok := rx.pop(&tx)
		if !ok {
			t.Fatalf("pop failed at %d (list unexpectedly empty)", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d (FIFO violated)", i, v)
		}
	}

	if v, ok := rx.pop(&tx); ok {
		t.Fatalf("expected empty list at the end, got value=%v", v)
	}
}

// Pushing 3*blockCap+1 values must allocate exactly 4 blocks, and a
// full drain must retire the first 3 — steady-state memory does not
// grow under balanced producer/consumer pace.
func TestListBlockAllocation(t *testing.T) {
	const N = 3*blockCap + 1

	var tx listTx[int]
	var rx listRx[int]
	newList(&tx, &rx)

	for i := 0; i < N; i++ {
		tx.push(i)
	}
	if got := tx.allocated.Load(); got != 4 {
		t.Fatalf("expected 4 blocks allocated, got %d", got)
	}

	for i := 0; i < N; i++ {
		v, ok := rx.pop(&tx)
		if !ok || v != i {
			t.Fatalf("pop %d: got (%v, %v)", i, v, ok)
		}
	}
	if rx.retired != 3 {
		t.Fatalf("expected 3 blocks retired after drain, got %d", rx.retired)
	}
	if got := tx.allocated.Load(); got != 4 {
		t.Fatalf("allocation count changed during drain: %d", got)
	}
}

// Concurrent test: many producers, single consumer.
// Checks that all values [0..N) are received exactly once.
func TestListConcurrentProducers(t *testing.T) {
	const (
		N           = 200_000
		producers   = 8
		perProducer = N / producers
	)

	var tx listTx[int]
	var rx listRx[int]
	newList(&tx, &rx)

	// seen[i] == how many times we saw value i
	seen := make([]int32, N)

	var wg sync.WaitGroup

	// Consumer
	wg.Add(1)
	go func() {
		defer wg.Done()

		received := 0
		for received < N {
			v, ok := rx.pop(&tx)
			if !ok {
				// nothing published at the moment, give producers a chance
				runtime.Gosched()
				continue
			}
			if v < 0 || v >= N {
				t.Errorf("consumer: out-of-range value %d", v)
				continue
			}
			atomic.AddInt32(&seen[v], 1)
			received++
		}
	}()

	var pg sync.WaitGroup
	pg.Add(producers)
	for p := 0; p < producers; p++ {
		start := p * perProducer
		end := start + perProducer

		go func(from, to int) {
			defer pg.Done()
			for i := from; i < to; i++ {
				tx.push(i)
			}
		}(start, end)
	}

	pg.Wait()
	wg.Wait()

	for i := 0; i < N; i++ {
		if seen[i] != 1 {
			t.Fatalf("value %d seen %d times (expected 1)", i, seen[i])
		}
	}

	// Every block behind the cursor must have been retired.
	if want := tx.allocated.Load() - 1; rx.retired != want {
		t.Fatalf("expected %d blocks retired, got %d", want, rx.retired)
	}
}

// Benchmark: many producers, single consumer, raw list.
func BenchmarkList_MP1C(b *testing.B) {
	const producers = 8

	var tx listTx[int]
	var rx listRx[int]
	newList(&tx, &rx)

	perProducer := b.N / producers

	var wg sync.WaitGroup
	wg.Add(producers + 1)

	go func() {
		defer wg.Done()
		total := 0
		for total < perProducer*producers {
			if _, ok := rx.pop(&tx); !ok {
				runtime.Gosched()
				continue
			}
			total++
		}
	}()

	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				tx.push(i)
			}
		}()
	}

	b.ResetTimer()
	wg.Wait()
	b.StopTimer()
}
