package pool

import (
	"context"
	"sync/atomic"
	"time"
)

// Pool owns a set of Tasks and the Groups that constrain them, and runs the
// single scheduling loop that decides when each task's next invocation may
// start. Every exported method marshals onto that loop via do, so a Pool
// and everything it creates is safe to use concurrently from any goroutine
// even though internally nothing is guarded by a lock.
type Pool struct {
	clock Clock
	cmdCh chan func()

	global *Group
	groups map[GroupID]*Group
	tasks  []*Task
	index  map[TaskID]*Task

	wakeTimer Timer

	closed atomic.Bool
}

// New creates a Pool. By default it has no concurrency or frequency cap and
// uses the real system clock; see WithClock, WithPoolConcurrencyLimit, and
// WithPoolFrequencyLimit. A non-positive concurrency limit or a frequency
// limit without a matching window fails construction.
func New(opts ...PoolOption) (*Pool, error) {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(cfg)
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

	p := &Pool{
		clock:  cfg.clock,
		cmdCh:  make(chan func(), 4096),
		groups: make(map[GroupID]*Group),
		index:  make(map[TaskID]*Task),
	}
	p.global = newGroup(GroupID("global"), p, cfg.concurrencyLimit, cfg.frequencyLimit, cfg.frequencyWindow)
	go p.loop()
	return p, nil
}

func (p *Pool) loop() {
	for fn := range p.cmdCh {
		fn()
	}
}

// do runs fn on the pool's scheduling loop and waits for it to finish. It
// is the only way any exported method touches Pool, Group, or Task state.
func (p *Pool) do(fn func()) {
	done := make(chan struct{})
	p.cmdCh <- func() { fn(); close(done) }
	<-done
}

// AddGroup creates a new shared Group owned by this pool.
func (p *Pool) AddGroup(opts ...GroupOption) (*Group, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	cfg := defaultGroupConfig()
	for _, opt := range opts {
		opt(cfg)
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

	var g *Group
	p.do(func() {
		id := cfg.id
		if id == "" {
			id = GroupID(nextID("group"))
		}
		g = newGroup(id, p, cfg.concurrencyLimit, cfg.frequencyLimit, cfg.frequencyWindow)
		p.groups[id] = g
	})
	return g, nil
}

// AddGenericTask registers a new Task backed by gen and returns it
// immediately. The task's first invocation consideration is always
// deferred past the call that created it: if AddGenericTask is itself
// called synchronously from within another task's generator, the new task
// is held back until that generator's call returns and is processed by the
// scheduler; otherwise it is held back by exactly one loop iteration. This
// is what keeps a generator from being able to force its own freshly
// created follow-up task to run before it has itself finished running.
func (p *Pool) AddGenericTask(ctx context.Context, gen Generator, opts ...TaskOption) (*Task, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if gen == nil {
		return nil, ErrNilGenerator
	}
	cfg := defaultTaskConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.concurrencyLimit != Unbounded && cfg.concurrencyLimit < 1 {
		return nil, ErrInvalidConcurrencyLimit
	}
	if cfg.invocationLimit != Unbounded && cfg.invocationLimit < 0 {
		return nil, ErrInvalidInvocationLimit
	}
	if cfg.frequencyLimit != 0 {
		if cfg.frequencyLimit < 1 {
			return nil, ErrInvalidFrequencyLimit
		}
		if cfg.frequencyWindow <= 0 {
			return nil, ErrFrequencyWindowRequired
		}
	}
	for _, g := range cfg.groups {
		if g.pool != p {
			return nil, ErrCrossPoolGroup
		}
	}

	ancestor := invocationFromContext(ctx)

	var task *Task
	var dup bool
	p.do(func() {
		id := cfg.id
		if id == "" {
			id = TaskID(nextID("task"))
		} else if _, exists := p.index[id]; exists {
			dup = true
			return
		}

		privateGroup := newGroup(GroupID("task:"+string(id)), p, cfg.concurrencyLimit, cfg.frequencyLimit, cfg.frequencyWindow)
		task = &Task{
			id:              id,
			pool:            p,
			generator:       gen,
			invocationLimit: cfg.invocationLimit,
			groups:          append([]*Group{p.global, privateGroup}, cfg.groups...),
			privateGroup:    privateGroup,
		}
		if cfg.paused {
			task.state = TaskPaused
		}
		for _, g := range task.groups {
			g.incrementTasksLocked()
		}

		p.tasks = append(p.tasks, task)
		p.index[id] = task

		if ancestor != nil {
			task.blockedByInvocation = ancestor
			ancestor.pendingTasks = append(ancestor.pendingTasks, task)
			return
		}
		task.awaitingFirstTick = true
		p.cmdCh <- func() {
			task.awaitingFirstTick = false
			p.runSchedulerPassLocked()
		}
	})
	if dup {
		return nil, ErrDuplicateTaskID
	}
	return task, nil
}

// SetConcurrencyLimit changes the pool's global concurrency limit at
// runtime. It is sugar over the pool's global group, which every task
// belongs to.
func (p *Pool) SetConcurrencyLimit(limit int) error {
	return p.global.SetConcurrencyLimit(limit)
}

// unregisterTaskLocked removes a terminated task from the registry. Must
// run on the scheduling loop.
func (p *Pool) unregisterTaskLocked(t *Task) {
	delete(p.index, t.id)
	for i, other := range p.tasks {
		if other == t {
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			break
		}
	}
}

// WaitForIdle returns once every task in the pool has terminated, or
// returns the first task failure recorded since the pool was last idle,
// whether or not that failure has already been observed elsewhere.
func (p *Pool) WaitForIdle(ctx context.Context) error {
	return p.global.WaitForIdle(ctx)
}

// GetTaskStatus returns a point-in-time snapshot of a task's scheduling
// state, or false if no task with that ID is currently registered.
func (p *Pool) GetTaskStatus(id TaskID) (TaskSnapshot, bool) {
	var snap TaskSnapshot
	var ok bool
	p.do(func() {
		t, found := p.index[id]
		if !found {
			return
		}
		ok = true
		snap = TaskSnapshot{
			ID:                 t.id,
			State:              t.state,
			Invocations:        t.invocations,
			ActivePromiseCount: t.privateGroup.activePromiseCount,
			FreeSlots:          t.freeSlotsLocked(),
		}
	})
	return snap, ok
}

// StopTask ends the task identified by id, as Task.End does, and reports
// whether a task with that ID was found. If the task still has invocations
// in flight it is marked Exhausted and terminates once they finish; if it
// has none, it terminates immediately, synchronously with this call.
func (p *Pool) StopTask(id TaskID) bool {
	var found bool
	p.do(func() {
		t, ok := p.index[id]
		if !ok {
			return
		}
		found = true
		t.endLocked()
	})
	return found
}

// Shutdown waits for every task in the pool to terminate, up to timeout,
// then stops the scheduling loop. Passing a non-positive timeout waits
// forever.
func (p *Pool) Shutdown(timeout time.Duration) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := p.WaitForIdle(ctx)
	if err != nil && ctx.Err() != nil {
		return ErrShutdownTimeout
	}
	p.closed.Store(true)
	close(p.cmdCh)
	return nil
}
