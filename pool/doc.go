// Package pool implements a constraint-driven scheduler for asynchronous
// work and a persistent batching coordinator layered on top of it.
//
// # Core model
//
// A Pool owns a registry of Tasks. Each Task repeatedly calls a user-supplied
// Generator to produce invocations; the scheduler decides which tasks may
// start their next invocation by checking the Groups the task belongs to.
// Every task is a member of at least two groups: the pool's own global group
// (slot 0) and a private group that exists solely to hold that task's own
// concurrency and frequency limits (slot 1). Callers can additionally share
// Groups across tasks to cap concurrency or request frequency across a set
// of tasks at once.
//
//	p, err := pool.New()
//	g, err := p.AddGroup(pool.WithGroupConcurrencyLimit(2))
//	task, err := p.AddGenericTask(ctx, func(ctx context.Context, invocation int) (any, error) {
//		if invocation >= 3 {
//			return nil, pool.ErrNoMoreWork
//		}
//		return doWork(invocation)
//	}, pool.WithTaskGroups(g))
//	result, err := task.Promise().Wait(ctx)
//
// The scheduler is single-threaded and cooperative: all bookkeeping runs on
// the pool's internal scheduling goroutine, and user generators are the only
// place that ever suspends. Invocation results complete on their own
// goroutines but report back to the scheduler through a channel, so no
// locks guard task or group state.
//
// # Persistent batching
//
// NewPersistentBatchTask coalesces many single-item requests into batched
// generator invocations, honoring a maximum batch size, a queuing delay, and
// queuing thresholds that cap how many batches may be in flight at once. Per
// item, a generator may resolve, reject, or return RetrySentinel to requeue
// that item at the front of the next batch.
//
// # What this package does not do
//
// There is no distributed coordination, no persistence of pending work
// across restarts, no priority beyond insertion order, no fair-share
// weighting across groups, and no cancellation of an invocation that has
// already started; End and StopTask only prevent new invocations.
package pool
