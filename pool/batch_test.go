package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestBatch_DispatchesOnMaxSize(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	var mu sync.Mutex
	var seen [][]int
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		mu.Lock()
		seen = append(seen, append([]int(nil), inputs...))
		mu.Unlock()
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v * 10
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen, WithMaxBatchSize(3))
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	var waiters []*Resolvable[int]
	for i := 1; i <= 3; i++ {
		w, err := b.GetResult(i)
		if err != nil {
			t.Fatalf("GetResult(%d): %v", i, err)
		}
		waiters = append(waiters, w)
	}

	for i, w := range waiters {
		val, err := w.Wait(context.Background())
		if err != nil {
			t.Fatalf("waiter %d: %v", i, err)
		}
		if val != (i+1)*10 {
			t.Errorf("waiter %d: expected %d, got %d", i, (i+1)*10, val)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || len(seen[0]) != 3 {
		t.Fatalf("expected exactly one batch of 3, got %v", seen)
	}
}

func TestBatch_QueuingDelayFlushesPartialBatch(t *testing.T) {
	clock := clockz.NewFakeClock()
	p := newTestPool(t, WithClock(clock))
	defer p.Shutdown(time.Second)

	var dispatched [][]int
	var mu sync.Mutex
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		mu.Lock()
		dispatched = append(dispatched, append([]int(nil), inputs...))
		mu.Unlock()
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen, WithMaxBatchSize(10), WithQueuingDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	w, err := b.GetResult(1)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if len(dispatched) != 0 {
		mu.Unlock()
		t.Fatal("expected no dispatch before the queuing delay elapses")
	}
	mu.Unlock()

	clock.Advance(50 * time.Millisecond)
	clock.BlockUntilReady()

	val, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("waiter: %v", err)
	}
	if val != 1 {
		t.Errorf("expected 1, got %d", val)
	}
}

func TestBatch_RetrySentinelRequeuesAtHeadPreservingOrder(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	var mu sync.Mutex
	var batches [][]int
	attempt := 0
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		mu.Lock()
		batches = append(batches, append([]int(nil), inputs...))
		mu.Unlock()
		attempt++
		out := make([]any, len(inputs))
		for i, v := range inputs {
			if attempt == 1 && (v == 1 || v == 2) {
				out[i] = RetrySentinel
				continue
			}
			out[i] = v * 100
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen, WithMaxBatchSize(3), WithQueuingThresholds(1, 1<<30))
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	w1, _ := b.GetResult(1)
	w2, _ := b.GetResult(2)
	w3, _ := b.GetResult(3)
	w4, err := b.GetResult(4)
	if err != nil {
		t.Fatalf("GetResult(4): %v", err)
	}

	r3, err := w3.Wait(context.Background())
	if err != nil {
		t.Fatalf("w3: %v", err)
	}
	if r3 != 300 {
		t.Errorf("expected item 3 to resolve on the first batch with 300, got %d", r3)
	}

	r1, err := w1.Wait(context.Background())
	if err != nil {
		t.Fatalf("w1: %v", err)
	}
	r2, err := w2.Wait(context.Background())
	if err != nil {
		t.Fatalf("w2: %v", err)
	}
	r4, err := w4.Wait(context.Background())
	if err != nil {
		t.Fatalf("w4: %v", err)
	}
	if r1 != 100 || r2 != 200 || r4 != 400 {
		t.Errorf("expected retried items 1, 2 and fresh item 4 to all eventually resolve, got %d %d %d", r1, r2, r4)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("expected exactly 2 batches (first dispatch, then the retry+new-item batch), got %d: %v", len(batches), batches)
	}
	if len(batches[0]) != 3 || batches[0][0] != 1 || batches[0][1] != 2 || batches[0][2] != 3 {
		t.Fatalf("expected the first batch to be [1 2 3], got %v", batches[0])
	}
	if len(batches[1]) != 3 || batches[1][0] != 1 || batches[1][1] != 2 || batches[1][2] != 4 {
		t.Errorf("expected the requeued items to keep their relative order ahead of the new item: want [1 2 4], got %v", batches[1])
	}
}

func TestBatch_SendBypassesDelayButNotThresholds(t *testing.T) {
	clock := clockz.NewFakeClock()
	p := newTestPool(t, WithClock(clock))
	defer p.Shutdown(time.Second)

	var mu sync.Mutex
	var dispatched int
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		mu.Lock()
		dispatched++
		mu.Unlock()
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen,
		WithMaxBatchSize(10),
		WithQueuingDelay(time.Hour),
		WithQueuingThresholds(2),
	)
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	w, err := b.GetResult(1)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	b.Send()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if dispatched != 0 {
		mu.Unlock()
		t.Fatal("expected Send to remain blocked by the queuing threshold with only one item queued")
	}
	mu.Unlock()

	w2, err := b.GetResult(2)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}

	val, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("w: %v", err)
	}
	val2, err := w2.Wait(context.Background())
	if err != nil {
		t.Fatalf("w2: %v", err)
	}
	if val != 1 || val2 != 2 {
		t.Errorf("expected [1 2], got [%d %d]", val, val2)
	}

	mu.Lock()
	defer mu.Unlock()
	if dispatched != 1 {
		t.Errorf("expected exactly one dispatch once the threshold was met, got %d", dispatched)
	}
}

func TestBatch_ShapeMismatchRejectsWholeBatch(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		return []any{inputs[0]}, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen, WithMaxBatchSize(2))
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	w1, _ := b.GetResult(1)
	w2, _ := b.GetResult(2)

	_, err1 := w1.Wait(context.Background())
	_, err2 := w2.Wait(context.Background())
	if !errors.Is(err1, ErrBatchShapeMismatch) || !errors.Is(err2, ErrBatchShapeMismatch) {
		t.Errorf("expected both waiters rejected with ErrBatchShapeMismatch, got %v / %v", err1, err2)
	}
}

func TestBatch_WaitForIdle_BlocksWhileAliveThenUnblocksAfterEnd(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen)
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	idleDone := make(chan error, 1)
	go func() { idleDone <- p.WaitForIdle(context.Background()) }()

	select {
	case err := <-idleDone:
		t.Fatalf("expected WaitForIdle to block while the batch coordinator is alive, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	b.End()
	if err := <-idleDone; err != nil {
		t.Errorf("expected WaitForIdle to resolve once the batch coordinator ended, got %v", err)
	}
}

func TestBatch_DispatchRespectsPoolConcurrencyLimit(t *testing.T) {
	p := newTestPool(t, WithPoolConcurrencyLimit(1))
	defer p.Shutdown(time.Second)

	var running atomic.Int32
	var maxRunning atomic.Int32
	release := make(chan struct{})
	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		n := running.Add(1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen, WithMaxBatchSize(1))
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	w1, err := b.GetResult(1)
	if err != nil {
		t.Fatalf("GetResult(1): %v", err)
	}
	w2, err := b.GetResult(2)
	if err != nil {
		t.Fatalf("GetResult(2): %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	if _, err := w1.Wait(context.Background()); err != nil {
		t.Errorf("w1: unexpected error: %v", err)
	}
	if _, err := w2.Wait(context.Background()); err != nil {
		t.Errorf("w2: unexpected error: %v", err)
	}
	if maxRunning.Load() != 1 {
		t.Errorf("expected the pool's concurrency limit of 1 to serialize batch dispatches, max observed %d", maxRunning.Load())
	}
}

func TestBatch_End_RejectsFurtherGetResult(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	gen := func(ctx context.Context, inputs []int) ([]any, error) {
		out := make([]any, len(inputs))
		for i, v := range inputs {
			out[i] = v
		}
		return out, nil
	}

	b, err := NewPersistentBatchTask[int, int](p, gen)
	if err != nil {
		t.Fatalf("NewPersistentBatchTask: %v", err)
	}

	b.End()
	if _, err := b.GetResult(1); !errors.Is(err, ErrBatchTerminated) {
		t.Errorf("expected ErrBatchTerminated after End, got %v", err)
	}
}
