package pool

import (
	"context"
	"time"
)

// Generator produces the work for one invocation of a Task. It is called
// with the zero-based invocation index. Returning ErrNoMoreWork (or wrapping
// it) signals that the task has no further invocations; any other non-nil
// error is treated as a task failure. Generators run on their own goroutine
// so they are free to block; the scheduler never waits on one directly.
type Generator func(ctx context.Context, invocation int) (any, error)

// invocationRecord identifies one in-flight call to a Generator. It is
// attached to the context passed to the generator so that tasks constructed
// synchronously from within that call can be deferred until the call
// returns, which is this package's translation of the "construction and
// first invocation are separated by one cooperative yield" rule.
type invocationRecord struct {
	task         *Task
	index        int
	pendingTasks []*Task
	freqMarkers  []freqMarker
}

// freqMarker pairs a group with the sliding-window entry an invocation
// pushed into it, so completeInvocationLocked can remove exactly that entry
// if the invocation turns out to be an ErrNoMoreWork probe.
type freqMarker struct {
	group  *Group
	marker *time.Time
}

type ctxKey struct{ name string }

var invocationCtxKey = ctxKey{"pool.invocation"}

func invocationFromContext(ctx context.Context) *invocationRecord {
	rec, _ := ctx.Value(invocationCtxKey).(*invocationRecord)
	return rec
}

type taskRejection struct {
	err      error
	handled  bool
	reported bool
}

// resultSlot holds one invocation's outcome, indexed by invocation number
// so that out-of-order completions (possible whenever a task's concurrency
// limit is greater than one) are re-assembled back into invocation order.
// An unset slot means that invocation returned a nil value, ErrNoMoreWork,
// or an error, and contributes nothing to the task's final result sequence.
type resultSlot struct {
	set bool
	val any
}

// setResultLocked records invocation idx's successful value. Must run on
// the scheduling loop.
func (t *Task) setResultLocked(idx int, val any) {
	for len(t.resultSlots) <= idx {
		t.resultSlots = append(t.resultSlots, resultSlot{})
	}
	t.resultSlots[idx] = resultSlot{set: true, val: val}
}

// compactResultsLocked assembles the task's final result sequence in
// invocation order, skipping unset slots. Must run on the scheduling loop.
func (t *Task) compactResultsLocked() []any {
	out := make([]any, 0, len(t.resultSlots))
	for _, slot := range t.resultSlots {
		if slot.set {
			out = append(out, slot.val)
		}
	}
	return out
}

// Task is one unit of repeatedly-invoked work. A Task always belongs to the
// owning Pool's global group (slot 0) and a private group holding its own
// concurrency/frequency limits (slot 1), plus whatever groups the caller
// supplied via WithTaskGroups.
//
// All fields below this line are mutated exclusively by the Pool's
// scheduling loop; exported methods marshal onto that loop so a Task is
// safe to use from any goroutine.
type Task struct {
	id   TaskID
	pool *Pool

	generator       Generator
	invocations     int
	invocationLimit int // Unbounded or >= 0
	state           TaskState

	resultSlots       []resultSlot
	finalResult       []any
	completionWaiters []*Resolvable[[]any]
	rejection         *taskRejection

	groups       []*Group
	privateGroup *Group

	blockedByInvocation *invocationRecord
	awaitingFirstTick   bool
}

// ID returns the task's opaque identifier.
func (t *Task) ID() TaskID { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState {
	var s TaskState
	t.pool.do(func() { s = t.state })
	return s
}

// Invocations returns how many times the generator has been called, not
// counting a call that returned ErrNoMoreWork.
func (t *Task) Invocations() int {
	var n int
	t.pool.do(func() { n = t.invocations })
	return n
}

// ActivePromiseCount returns how many of the task's own invocations are
// currently in flight.
func (t *Task) ActivePromiseCount() int {
	var n int
	t.pool.do(func() { n = t.privateGroup.activePromiseCount })
	return n
}

// FreeSlots returns the minimum number of additional invocations the task
// could start right now without exceeding any of its groups' concurrency
// limits or its own invocation limit. Unbounded limits don't constrain it.
func (t *Task) FreeSlots() int {
	var n int
	t.pool.do(func() { n = t.freeSlotsLocked() })
	return n
}

func (t *Task) freeSlotsLocked() int {
	free := Unbounded
	if t.invocationLimit != Unbounded {
		free = t.invocationLimit - t.invocations
		if free < 0 {
			free = 0
		}
	}
	for _, g := range t.groups {
		if g.concurrencyLimit == Unbounded {
			continue
		}
		groupFree := g.concurrencyLimit - g.activePromiseCount
		if groupFree < 0 {
			groupFree = 0
		}
		if free == Unbounded || groupFree < free {
			free = groupFree
		}
	}
	if free == Unbounded {
		return Unbounded
	}
	return free
}

// Promise returns a Resolvable that settles with the task's full result
// sequence (one entry per invocation that returned a non-nil value, in
// invocation order) once the task
// terminates, or with its recorded rejection. Calling Promise marks any
// already-recorded rejection as handled, suppressing the unhandled-
// rejection report.
func (t *Task) Promise() *Resolvable[[]any] {
	waiter := NewResolvable[[]any]()
	t.pool.do(func() {
		if t.rejection != nil {
			t.rejection.handled = true
			t.notifyHandledLocked()
			waiter.Reject(t.rejection.err)
			return
		}
		if t.state == TaskTerminated {
			waiter.Resolve(t.finalResult)
			return
		}
		t.completionWaiters = append(t.completionWaiters, waiter)
	})
	return waiter
}

// Pause prevents new invocations from starting until Resume is called.
// Invocations already in flight are unaffected.
func (t *Task) Pause() {
	t.pool.do(func() {
		if t.state == TaskActive {
			t.state = TaskPaused
		}
	})
}

// Resume reverses Pause and re-triggers the scheduler.
func (t *Task) Resume() {
	t.pool.do(func() {
		if t.state == TaskPaused {
			t.state = TaskActive
			t.pool.runSchedulerPassLocked()
		}
	})
}

// End forces the task toward termination: if no invocations are in flight it
// terminates immediately (detaching from every group and resolving
// waiters); otherwise it marks the task Exhausted so no further invocations
// start, and the last in-flight completion finalizes termination.
func (t *Task) End() {
	t.pool.do(func() { t.endLocked() })
}

func (t *Task) endLocked() {
	if t.state == TaskTerminated {
		return
	}
	if t.privateGroup.activePromiseCount == 0 {
		t.terminateLocked()
		return
	}
	if t.state < TaskExhausted {
		t.state = TaskExhausted
	}
}

// SetInvocationLimit changes the task's invocation limit at runtime. A
// limit at or below the current invocation count ends the task (matching
// the "a previously raised cap could be lowered below what already ran"
// case); any other change re-triggers the scheduler since raising the limit
// can unblock it.
func (t *Task) SetInvocationLimit(limit int) error {
	if limit != Unbounded && limit < 0 {
		return ErrInvalidInvocationLimit
	}
	var terminated bool
	t.pool.do(func() {
		if t.state == TaskTerminated {
			terminated = true
			return
		}
		t.invocationLimit = limit
		if limit != Unbounded && limit <= t.invocations {
			t.endLocked()
			return
		}
		t.pool.runSchedulerPassLocked()
	})
	if terminated {
		return ErrTaskTerminated
	}
	return nil
}

// SetConcurrencyLimit changes the task's own concurrency limit at runtime,
// independent of whatever group it was constructed with. It is sugar over
// the task's private group.
func (t *Task) SetConcurrencyLimit(limit int) error {
	if limit != Unbounded && limit < 1 {
		return ErrInvalidConcurrencyLimit
	}
	var terminated bool
	t.pool.do(func() {
		if t.state == TaskTerminated {
			terminated = true
			return
		}
		t.privateGroup.concurrencyLimit = limit
		t.pool.triggerLocked()
	})
	if terminated {
		return ErrTaskTerminated
	}
	return nil
}

// SetFrequencyLimit changes the task's own frequency limit and window at
// runtime. Passing limit 0 disables frequency limiting for the task.
func (t *Task) SetFrequencyLimit(limit int, window time.Duration) error {
	if limit != 0 && limit < 1 {
		return ErrInvalidFrequencyLimit
	}
	if limit != 0 && window <= 0 {
		return ErrFrequencyWindowRequired
	}
	var terminated bool
	t.pool.do(func() {
		if t.state == TaskTerminated {
			terminated = true
			return
		}
		t.privateGroup.frequencyLimit = limit
		t.privateGroup.frequencyWindow = window
		if limit == 0 {
			t.privateGroup.frequencyStarts.Clear()
		}
		t.pool.triggerLocked()
	})
	if terminated {
		return ErrTaskTerminated
	}
	return nil
}

// terminateLocked transitions the task to Terminated, detaches it from
// every group, removes it from the pool's registry, and settles every
// waiter. Must run on the scheduling loop, and only when no invocations are
// in flight.
func (t *Task) terminateLocked() {
	t.state = TaskTerminated
	t.finalResult = t.compactResultsLocked()
	for _, g := range t.groups {
		g.decrementTasksLocked()
	}
	t.pool.unregisterTaskLocked(t)

	waiters := t.completionWaiters
	t.completionWaiters = nil
	if t.rejection != nil {
		for _, w := range waiters {
			t.rejection.handled = true
			w.Reject(t.rejection.err)
		}
		return
	}
	for _, w := range waiters {
		w.Resolve(t.finalResult)
	}
}

// failLocked records the task's first rejection (subsequent failures go
// only to reportDroppedFailure's debug log, never to
// UnhandledRejectionHandler), propagates it to every
// group the task belongs to, and arms the deferred unobserved-rejection
// check described in the package's error-handling design.
func (t *Task) failLocked(err error) {
	if t.rejection != nil {
		reportDroppedFailure(t.id, err)
		return
	}
	t.rejection = &taskRejection{err: err}
	waiters := t.completionWaiters
	t.completionWaiters = nil
	for _, w := range waiters {
		t.rejection.handled = true
		w.Reject(err)
	}
	for _, g := range t.groups {
		g.rejectLocked(t, err)
	}
	t.armUnhandledRejectionCheckLocked()
}

func (t *Task) armUnhandledRejectionCheckLocked() {
	rec := t.rejection
	t.pool.clock.AfterFunc(0, func() {
		t.pool.do(func() {
			if rec != t.rejection || rec.handled {
				return
			}
			rec.reported = true
			unhandledRejectionHandler(t.id, rec.err)
		})
	})
}

func (t *Task) notifyHandledLocked() {
	if t.rejection != nil && t.rejection.reported {
		t.rejection.reported = false
		rejectionHandledHandler(t.id, t.rejection.err)
	}
}
