package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSugar_AddSingleTask(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	calls := 0
	task, err := AddSingleTask(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "done", nil
	})
	if err != nil {
		t.Fatalf("AddSingleTask: %v", err)
	}

	result, err := task.Promise().Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Errorf("expected \"done\", got %q", result)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call, got %d", calls)
	}
}

func TestSugar_AddSingleTask_Rejection(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	boom := errors.New("boom")
	task, err := AddSingleTask(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if err != nil {
		t.Fatalf("AddSingleTask: %v", err)
	}

	_, err = task.Promise().Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestSugar_AddLinearTask_SequentialAndOrdered(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	seen := []int{}
	task, err := AddLinearTask(context.Background(), p, func(ctx context.Context, invocation int) (int, error) {
		if invocation >= 5 {
			return 0, ErrNoMoreWork
		}
		seen = append(seen, invocation)
		return invocation * invocation, nil
	}, WithTaskConcurrencyLimit(Unbounded)) // must not be able to override the forced sequential guarantee
	if err != nil {
		t.Fatalf("AddLinearTask: %v", err)
	}

	result, err := task.Promise().Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 5 {
		t.Fatalf("expected 5 results, got %d", len(result))
	}
	for i, v := range result {
		if v.(int) != i*i {
			t.Errorf("result[%d]: expected %d, got %v", i, i*i, v)
		}
	}
	for i, v := range seen {
		if v != i {
			t.Errorf("expected invocations to run strictly in order, got %v", seen)
			break
		}
	}
}

func TestSugar_AddEachTask(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	data := []string{"a", "bb", "ccc"}
	task, err := AddEachTask(context.Background(), p, data, func(ctx context.Context, item string, index int) (int, error) {
		return len(item), nil
	})
	if err != nil {
		t.Fatalf("AddEachTask: %v", err)
	}

	result, err := task.Promise().Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result))
	}
	for i, want := range []int{1, 2, 3} {
		if result[i].(int) != want {
			t.Errorf("result[%d]: expected %d, got %v", i, want, result[i])
		}
	}
}

func TestSugar_AddEachTask_InvocationsMatchesItemCount(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	data := []string{"a", "bb", "ccc", "dddd"}
	task, err := AddEachTask(context.Background(), p, data, func(ctx context.Context, item string, index int) (int, error) {
		return len(item), nil
	})
	if err != nil {
		t.Fatalf("AddEachTask: %v", err)
	}

	result, err := task.Promise().Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := task.Invocations(); n != len(data) {
		t.Errorf("expected Invocations() to equal the item count %d, got %d", len(data), n)
	}
	if len(result) != len(data) {
		t.Errorf("expected %d results, got %d", len(data), len(result))
	}
}

func TestSugar_AddBatchTask_FixedSize(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	data := []int{1, 2, 3, 4, 5, 6, 7}
	var batches [][]int
	task, err := AddBatchTask(context.Background(), p, data, FixedBatchSize(3),
		func(ctx context.Context, batch []int, batchIndex int) ([]int, error) {
			batches = append(batches, append([]int(nil), batch...))
			out := make([]int, len(batch))
			for i, v := range batch {
				out[i] = v * 2
			}
			return out, nil
		})
	if err != nil {
		t.Fatalf("AddBatchTask: %v", err)
	}

	result, err := task.Promise().Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 batch results (sizes 3,3,1), got %d", len(result))
	}

	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	if len(batches) != len(want) {
		t.Fatalf("expected %d dispatched batches, got %d: %v", len(want), len(batches), batches)
	}
	for i, b := range want {
		got := batches[i]
		if len(got) != len(b) {
			t.Fatalf("batch %d: expected length %d, got %d (%v)", i, len(b), len(got), got)
		}
		for j, v := range b {
			if got[j] != v {
				t.Errorf("batch %d[%d]: expected %d, got %d", i, j, v, got[j])
			}
		}
	}
}

func TestSugar_AddBatchTask_InvalidSizeFuncFailsTask(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown(time.Second)

	data := []int{1, 2, 3}
	badSize := func(remaining, freeSlots int) (int, error) { return 0, nil }
	task, err := AddBatchTask(context.Background(), p, data, badSize,
		func(ctx context.Context, batch []int, batchIndex int) ([]int, error) {
			return batch, nil
		})
	if err != nil {
		t.Fatalf("AddBatchTask: %v", err)
	}

	_, err = task.Promise().Wait(context.Background())
	if !errors.Is(err, ErrInvalidBatchSizeFunc) {
		t.Errorf("expected ErrInvalidBatchSizeFunc, got %v", err)
	}
}
