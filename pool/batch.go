package pool

import (
	"context"
	"time"

	"github.com/gammazero/deque"
)

// retrySentinel is RetrySentinel's dynamic type. A BatchGenerator output
// slot carrying this type, rather than an Out value or an error, requeues
// the corresponding input at the head of the queue instead of settling it.
type retrySentinel struct{}

// RetrySentinel is the value a BatchGenerator places in its output slice to
// ask for that input to be retried in an upcoming batch rather than
// resolved or rejected.
var RetrySentinel any = retrySentinel{}

// BatchGenerator produces one output per input, in the same order, or a
// single error rejecting every input in the batch. Each output must be
// either a value assignable to Out, an error rejecting just that input, or
// RetrySentinel. A generator that returns a slice of the wrong length
// rejects the whole batch with ErrBatchShapeMismatch.
type BatchGenerator[In, Out any] func(ctx context.Context, inputs []In) ([]any, error)

// BatchTaskState is the lifecycle state of a PersistentBatchTask.
type BatchTaskState int

const (
	BatchTaskActive BatchTaskState = iota
	BatchTaskEnded
)

func (s BatchTaskState) String() string {
	if s == BatchTaskEnded {
		return "Ended"
	}
	return "Active"
}

type batchItem[In, Out any] struct {
	input  In
	waiter *Resolvable[Out]
}

type batchConfig struct {
	maxBatchSize      int
	queuingDelay      time.Duration
	queuingThresholds []int
	concurrencyLimit  int
	frequencyLimit    int
	frequencyWindow   time.Duration
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		maxBatchSize:      Unbounded,
		queuingThresholds: []int{1},
		concurrencyLimit:  Unbounded,
	}
}

// BatchOption configures a PersistentBatchTask at construction time.
type BatchOption func(*batchConfig)

// WithMaxBatchSize caps how many inputs a single BatchGenerator call
// receives. The default, Unbounded, lets a batch grow to however much is
// queued by the time it dispatches.
func WithMaxBatchSize(n int) BatchOption {
	return func(c *batchConfig) { c.maxBatchSize = n }
}

// WithQueuingDelay sets how long the first queued input in an otherwise
// empty queue waits for company before a batch dispatches anyway. The
// default, zero, only matters when WithMaxBatchSize is also left at its
// Unbounded default: with no size target to wait for either, a zero delay
// still arms a timer so the batch flushes on the next scheduling tick
// instead of never dispatching. A bounded max batch size with no explicit
// delay waits for that size (or a Send call) with no implicit flush.
func WithQueuingDelay(d time.Duration) BatchOption {
	return func(c *batchConfig) { c.queuingDelay = d }
}

// WithQueuingThresholds sets the minimum queue length required to start a
// new batch, indexed by how many batches are already running: thresholds[0]
// applies when none are running, thresholds[1] when one is, and so on,
// with the last entry applying to every higher count. Each entry must be
// positive and the slice non-decreasing. The default, {1}, imposes no
// threshold beyond "there is something to send".
func WithQueuingThresholds(thresholds ...int) BatchOption {
	return func(c *batchConfig) { c.queuingThresholds = append([]int(nil), thresholds...) }
}

// WithBatchConcurrencyLimit caps how many BatchGenerator calls may be in
// flight at once.
func WithBatchConcurrencyLimit(limit int) BatchOption {
	return func(c *batchConfig) { c.concurrencyLimit = limit }
}

// WithBatchFrequencyLimit caps how many BatchGenerator calls may start
// within a sliding window.
func WithBatchFrequencyLimit(limit int, window time.Duration) BatchOption {
	return func(c *batchConfig) {
		c.frequencyLimit = limit
		c.frequencyWindow = window
	}
}

// PersistentBatchTask coalesces many individual GetResult calls into group
// calls to a BatchGenerator, the way a request batcher or a bulk API
// client would. Unlike a Task, it never runs out of invocations on its
// own: it keeps accepting and batching input until End is called.
type PersistentBatchTask[In, Out any] struct {
	pool *Pool
	task *Task

	generator BatchGenerator[In, Out]
	group     *Group

	maxBatchSize      int
	queuingDelay      time.Duration
	queuingThresholds []int

	queue        deque.Deque[*batchItem[In, Out]]
	delayTimer   Timer
	delayArmed   bool
	delayElapsed bool
	sendPending  bool
	state        BatchTaskState
}

// NewPersistentBatchTask registers a new batch coordinator on p.
func NewPersistentBatchTask[In, Out any](p *Pool, gen BatchGenerator[In, Out], opts ...BatchOption) (*PersistentBatchTask[In, Out], error) {
	if gen == nil {
		return nil, ErrNilGenerator
	}
	cfg := defaultBatchConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxBatchSize != Unbounded && cfg.maxBatchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	if cfg.queuingDelay < 0 {
		return nil, ErrInvalidQueuingDelay
	}
	prev := 0
	for _, th := range cfg.queuingThresholds {
		if th < 1 || th < prev {
			return nil, ErrInvalidQueuingThreshold
		}
		prev = th
	}
	if cfg.concurrencyLimit != Unbounded && cfg.concurrencyLimit < 1 {
		return nil, ErrInvalidConcurrencyLimit
	}
	if cfg.frequencyLimit != 0 {
		if cfg.frequencyLimit < 1 {
			return nil, ErrInvalidFrequencyLimit
		}
		if cfg.frequencyWindow <= 0 {
			return nil, ErrFrequencyWindowRequired
		}
	}

	b := &PersistentBatchTask[In, Out]{
		pool:              p,
		generator:         gen,
		maxBatchSize:      cfg.maxBatchSize,
		queuingDelay:      cfg.queuingDelay,
		queuingThresholds: cfg.queuingThresholds,
	}

	// The coordinator wraps one backing Task, permanently paused so the
	// scheduler never invokes it directly. Registering it is what makes the
	// coordinator visible to the pool's global group: Pool.WaitForIdle
	// blocks while this task is alive, and dispatches below charge the same
	// global group every ordinary task charges, so pool-wide concurrency and
	// frequency limits apply to batch dispatches too.
	task, err := p.AddGenericTask(context.Background(), func(ctx context.Context, invocation int) (any, error) {
		return nil, ErrNoMoreWork
	}, WithTaskPaused())
	if err != nil {
		return nil, err
	}
	b.task = task

	p.do(func() {
		b.group = newGroup(GroupID("batch:"+string(task.ID())), p, cfg.concurrencyLimit, cfg.frequencyLimit, cfg.frequencyWindow)
	})
	return b, nil
}

// ID returns the batch coordinator's opaque identifier.
func (b *PersistentBatchTask[In, Out]) ID() TaskID { return b.task.ID() }

// State returns the coordinator's current lifecycle state.
func (b *PersistentBatchTask[In, Out]) State() BatchTaskState {
	var s BatchTaskState
	b.pool.do(func() { s = b.state })
	return s
}

// GetResult enqueues input for an upcoming batch and returns a Resolvable
// that settles once that batch's BatchGenerator call resolves or rejects
// this input's slot, or the whole batch fails or mismatches shape, or End
// is called while the input is still queued.
func (b *PersistentBatchTask[In, Out]) GetResult(input In) (*Resolvable[Out], error) {
	waiter := NewResolvable[Out]()
	var err error
	b.pool.do(func() {
		if b.state == BatchTaskEnded {
			err = ErrBatchTerminated
			return
		}
		b.queue.PushBack(&batchItem[In, Out]{input: input, waiter: waiter})
		if !b.delayArmed && (b.queuingDelay > 0 || b.maxBatchSize == Unbounded) {
			b.armDelayLocked()
		}
		b.attemptDispatchLocked()
	})
	if err != nil {
		return nil, err
	}
	return waiter, nil
}

// Send marks the coordinator as having an outstanding manual flush
// request and attempts to dispatch immediately, bypassing the queuing
// delay. It remains subject to the queuing thresholds: if they forbid a
// start right now, the request is remembered and retried every time a
// running batch completes, firing as soon as a threshold is satisfied
// without needing the delay to elapse again.
func (b *PersistentBatchTask[In, Out]) Send() {
	b.pool.do(func() {
		b.sendPending = true
		b.attemptDispatchLocked()
	})
}

// End stops the coordinator from accepting new input; GetResult returns
// ErrBatchTerminated afterward. Inputs still queued when End is called are
// rejected with ErrBatchTerminated. Batches already in flight still report
// back: their outputs settle their waiters, and an input marked with
// RetrySentinel is requeued as usual.
func (b *PersistentBatchTask[In, Out]) End() {
	b.pool.do(func() {
		b.state = BatchTaskEnded
		b.cancelDelayLocked()
		for b.queue.Len() > 0 {
			b.queue.PopFront().waiter.Reject(ErrBatchTerminated)
		}
	})
	b.task.End()
}

func (b *PersistentBatchTask[In, Out]) armDelayLocked() {
	b.delayArmed = true
	b.delayTimer = b.pool.clock.AfterFunc(b.queuingDelay, func() {
		b.pool.do(func() {
			b.delayArmed = false
			b.delayElapsed = true
			b.attemptDispatchLocked()
		})
	})
}

func (b *PersistentBatchTask[In, Out]) cancelDelayLocked() {
	if b.delayTimer != nil {
		b.delayTimer.Stop()
		b.delayTimer = nil
	}
	b.delayArmed = false
	b.delayElapsed = false
}

// attemptDispatchLocked starts as many batches as the queue, the queuing
// policy, and the group's and the pool's concurrency and frequency limits
// currently allow. A batch is eligible to start at all once the queue has
// reached maxBatchSize, the queuing delay has elapsed, or Send was called;
// the queuing thresholds are then an independent, unconditional gate on top
// of that. Send bypasses only the delay, never the thresholds.
func (b *PersistentBatchTask[In, Out]) attemptDispatchLocked() {
	now := b.pool.clock.Now()
	for {
		if b.queue.Len() == 0 {
			b.cancelDelayLocked()
			b.sendPending = false
			return
		}
		b.group.cleanFrequencyStartsLocked(now)
		b.pool.global.cleanFrequencyStartsLocked(now)
		busy := laterBusy(b.group.busyTimeLocked(), b.pool.global.busyTimeLocked())
		if !busy.Ready() {
			return
		}
		if b.queue.Len() < b.thresholdFor(b.group.activePromiseCount) {
			return
		}
		if !(b.sendPending || b.delayElapsed || (b.maxBatchSize != Unbounded && b.queue.Len() >= b.maxBatchSize)) {
			return
		}

		n := b.queue.Len()
		if b.maxBatchSize != Unbounded && n > b.maxBatchSize {
			n = b.maxBatchSize
		}
		batch := make([]*batchItem[In, Out], n)
		for i := 0; i < n; i++ {
			batch[i] = b.queue.PopFront()
		}
		b.dispatchLocked(batch, now)

		if b.queue.Len() == 0 {
			b.cancelDelayLocked()
			b.sendPending = false
			return
		}
		b.delayElapsed = false
		if !b.delayArmed && (b.queuingDelay > 0 || b.maxBatchSize == Unbounded) {
			b.armDelayLocked()
		}
	}
}

func (b *PersistentBatchTask[In, Out]) thresholdFor(running int) int {
	idx := running
	if idx >= len(b.queuingThresholds) {
		idx = len(b.queuingThresholds) - 1
	}
	if idx < 0 {
		return 1
	}
	return b.queuingThresholds[idx]
}

func (b *PersistentBatchTask[In, Out]) dispatchLocked(batch []*batchItem[In, Out], now time.Time) {
	b.group.recordInvocationStartLocked(now)
	b.pool.global.recordInvocationStartLocked(now)
	inputs := make([]In, len(batch))
	for i, item := range batch {
		inputs[i] = item.input
	}
	gen := b.generator
	go func() {
		outputs, err := gen(context.Background(), inputs)
		b.pool.do(func() { b.completeDispatchLocked(batch, outputs, err) })
	}()
}

func (b *PersistentBatchTask[In, Out]) completeDispatchLocked(batch []*batchItem[In, Out], outputs []any, err error) {
	b.group.releaseInvocationLocked()
	b.pool.global.releaseInvocationLocked()

	switch {
	case err != nil:
		for _, item := range batch {
			item.waiter.Reject(err)
		}
	case len(outputs) != len(batch):
		for _, item := range batch {
			item.waiter.Reject(ErrBatchShapeMismatch)
		}
	default:
		var retries []*batchItem[In, Out]
		for i, item := range batch {
			switch out := outputs[i].(type) {
			case retrySentinel:
				retries = append(retries, item)
			case error:
				item.waiter.Reject(out)
			default:
				val, ok := outputs[i].(Out)
				if !ok {
					item.waiter.Reject(ErrBatchValueType)
					continue
				}
				item.waiter.Resolve(val)
			}
		}
		for i := len(retries) - 1; i >= 0; i-- {
			b.queue.PushFront(retries[i])
		}
	}

	debugLog("batch %s dispatched %d items", b.task.ID(), len(batch))
	b.pool.triggerLocked()
	b.attemptDispatchLocked()
}
