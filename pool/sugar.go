package pool

import "context"

// SingleTask wraps the *Task backing an AddSingleTask call, converting its
// []any result sequence back into the single typed value fn produced.
type SingleTask[R any] struct {
	task *Task
}

// Task returns the underlying *Task, for callers that need its ID, State,
// or lifecycle methods directly.
func (s *SingleTask[R]) Task() *Task { return s.task }

// Promise returns a Resolvable that settles with fn's typed return value,
// or its rejection. Calling Promise marks any already-recorded rejection as
// handled, exactly as Task.Promise does.
func (s *SingleTask[R]) Promise() *Resolvable[R] {
	return chainResolvable(s.task.Promise(), func(results []any) (R, error) {
		var zero R
		if len(results) == 0 {
			return zero, nil
		}
		val, ok := results[0].(R)
		if !ok {
			return zero, ErrResultType
		}
		return val, nil
	})
}

// AddSingleTask registers a task whose generator runs exactly once. It is
// sugar over AddGenericTask: WithTaskInvocationLimit(1) is applied before
// opts so a caller can still override it deliberately. Unlike AddGenericTask,
// the returned SingleTask converts its result back to R instead of leaving
// the caller to unwrap a single-element []any.
func AddSingleTask[R any](ctx context.Context, p *Pool, fn func(ctx context.Context) (R, error), opts ...TaskOption) (*SingleTask[R], error) {
	gen := func(ctx context.Context, invocation int) (any, error) {
		if invocation > 0 {
			return nil, ErrNoMoreWork
		}
		return fn(ctx)
	}
	forced := append([]TaskOption{WithTaskInvocationLimit(1)}, opts...)
	task, err := p.AddGenericTask(ctx, gen, forced...)
	if err != nil {
		return nil, err
	}
	return &SingleTask[R]{task: task}, nil
}

// AddLinearTask registers a task whose generator is called repeatedly,
// strictly one invocation at a time, until it returns ErrNoMoreWork. The
// sequential guarantee is load-bearing for generators that close over
// mutable state between calls, so WithTaskConcurrencyLimit(1) is applied
// after opts and cannot be relaxed by the caller.
func AddLinearTask[R any](ctx context.Context, p *Pool, fn func(ctx context.Context, invocation int) (R, error), opts ...TaskOption) (*Task, error) {
	gen := func(ctx context.Context, invocation int) (any, error) {
		return fn(ctx, invocation)
	}
	forced := append(append([]TaskOption{}, opts...), WithTaskConcurrencyLimit(1))
	return p.AddGenericTask(ctx, gen, forced...)
}

// AddEachTask registers a task that calls fn once per element of data, in
// index order, and stops once every element has been visited. Because each
// invocation only ever reads data[index], never shared mutable state, it is
// safe to raise the task's concurrency with WithTaskConcurrencyLimit to run
// several elements at once; unlike AddBatchTask and AddLinearTask,
// AddEachTask itself never forces a concurrency cap, so whatever the caller
// passes through opts (or the task's own default of 1, same as any other
// task) controls how many invocations run at a time.
func AddEachTask[D, R any](ctx context.Context, p *Pool, data []D, fn func(ctx context.Context, item D, index int) (R, error), opts ...TaskOption) (*Task, error) {
	gen := func(ctx context.Context, invocation int) (any, error) {
		if invocation >= len(data) {
			return nil, ErrNoMoreWork
		}
		return fn(ctx, data[invocation], invocation)
	}
	return p.AddGenericTask(ctx, gen, opts...)
}

// BatchSizeFunc decides how many of the remaining elements the next call to
// an AddBatchTask generator should consume. It is called with the number of
// elements not yet consumed and the number of invocations the task could
// still start concurrently right now, and must return a positive number no
// greater than remaining; FixedBatchSize builds the common constant case.
// AddBatchTask always forces concurrency 1, so freeSlots is always 1 at the
// call site, but the parameter is kept so a caller's function reads the
// same as the one-off generator signature it mirrors.
type BatchSizeFunc func(remaining, freeSlots int) (int, error)

// FixedBatchSize returns a BatchSizeFunc that always requests n elements
// (or whatever is left, on the final call).
func FixedBatchSize(n int) BatchSizeFunc {
	return func(remaining, freeSlots int) (int, error) {
		if n <= 0 {
			return 0, ErrInvalidBatchSize
		}
		return n, nil
	}
}

// AddBatchTask registers a task that slices data into consecutive batches
// sized by batchSize and calls fn once per batch. A batchSize call that
// returns a non-positive number fails the task with
// ErrInvalidBatchSizeFunc instead of looping forever. Like AddLinearTask,
// it forces concurrency 1: the running offset into data is ordinary
// closure state, not synchronized, and relies on the scheduler never
// starting a second invocation before the first returns.
func AddBatchTask[D, R any](ctx context.Context, p *Pool, data []D, batchSize BatchSizeFunc, fn func(ctx context.Context, batch []D, batchIndex int) ([]R, error), opts ...TaskOption) (*Task, error) {
	offset := 0
	gen := func(ctx context.Context, invocation int) (any, error) {
		if offset >= len(data) {
			return nil, ErrNoMoreWork
		}
		remaining := len(data) - offset
		n, err := batchSize(remaining, 1)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			// Skip the rest of data so the next invocation ends the task
			// instead of asking batchSize again.
			offset = len(data)
			return nil, ErrInvalidBatchSizeFunc
		}
		if n > remaining {
			n = remaining
		}
		batch := data[offset : offset+n]
		result, err := fn(ctx, batch, invocation)
		if err != nil {
			return nil, err
		}
		offset += n
		return result, nil
	}
	forced := append(append([]TaskOption{}, opts...), WithTaskConcurrencyLimit(1))
	return p.AddGenericTask(ctx, gen, forced...)
}
