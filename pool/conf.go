package pool

import "time"

type poolConfig struct {
	clock            Clock
	concurrencyLimit int
	frequencyLimit   int
	frequencyWindow  time.Duration
}

func defaultPoolConfig() *poolConfig {
	return &poolConfig{
		clock:            RealClock,
		concurrencyLimit: Unbounded,
	}
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*poolConfig)

// WithClock overrides the Clock the pool uses for every timing decision:
// frequency windows, queuing delays, and the unhandled-rejection check.
// Tests use this to substitute a fake clock for deterministic timing.
func WithClock(clock Clock) PoolOption {
	return func(c *poolConfig) { c.clock = clock }
}

// WithPoolConcurrencyLimit caps how many invocations may run across every
// task in the pool at once. Pass Unbounded (the default) for no cap.
func WithPoolConcurrencyLimit(limit int) PoolOption {
	return func(c *poolConfig) { c.concurrencyLimit = limit }
}

// WithPoolFrequencyLimit caps how many invocations may start across the
// whole pool within a sliding window.
func WithPoolFrequencyLimit(limit int, window time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.frequencyLimit = limit
		c.frequencyWindow = window
	}
}

type groupConfig struct {
	id               GroupID
	concurrencyLimit int
	frequencyLimit   int
	frequencyWindow  time.Duration
}

func defaultGroupConfig() *groupConfig {
	return &groupConfig{concurrencyLimit: Unbounded}
}

// GroupOption configures a Group at construction time.
type GroupOption func(*groupConfig)

// WithGroupID assigns an explicit, caller-chosen identifier to the group.
func WithGroupID(id GroupID) GroupOption {
	return func(c *groupConfig) { c.id = id }
}

// WithGroupConcurrencyLimit caps how many invocations charged against this
// group may run at once.
func WithGroupConcurrencyLimit(limit int) GroupOption {
	return func(c *groupConfig) { c.concurrencyLimit = limit }
}

// WithGroupFrequencyLimit caps how many invocations charged against this
// group may start within a sliding window.
func WithGroupFrequencyLimit(limit int, window time.Duration) GroupOption {
	return func(c *groupConfig) {
		c.frequencyLimit = limit
		c.frequencyWindow = window
	}
}

type taskConfig struct {
	id               TaskID
	groups           []*Group
	concurrencyLimit int
	frequencyLimit   int
	frequencyWindow  time.Duration
	invocationLimit  int
	paused           bool
}

func defaultTaskConfig() *taskConfig {
	return &taskConfig{
		concurrencyLimit: 1,
		invocationLimit:  Unbounded,
	}
}

// TaskOption configures a Task at construction time.
type TaskOption func(*taskConfig)

// WithTaskID assigns an explicit, caller-chosen identifier to the task.
func WithTaskID(id TaskID) TaskOption {
	return func(c *taskConfig) { c.id = id }
}

// WithTaskGroups adds the task to one or more shared groups, in addition to
// the pool's global group and the task's own private group.
func WithTaskGroups(groups ...*Group) TaskOption {
	return func(c *taskConfig) { c.groups = append(c.groups, groups...) }
}

// WithTaskConcurrencyLimit caps how many of the task's own invocations may
// run at once, via its private group.
func WithTaskConcurrencyLimit(limit int) TaskOption {
	return func(c *taskConfig) { c.concurrencyLimit = limit }
}

// WithTaskFrequencyLimit caps how many of the task's own invocations may
// start within a sliding window, via its private group.
func WithTaskFrequencyLimit(limit int, window time.Duration) TaskOption {
	return func(c *taskConfig) {
		c.frequencyLimit = limit
		c.frequencyWindow = window
	}
}

// WithTaskInvocationLimit caps the total number of times the generator will
// be called. Pass 0 to create a task that resolves immediately with an
// empty result sequence.
func WithTaskInvocationLimit(limit int) TaskOption {
	return func(c *taskConfig) { c.invocationLimit = limit }
}

// WithTaskPaused creates the task already paused, so it holds its slot in
// every group but starts no invocations until Resume is called.
func WithTaskPaused() TaskOption {
	return func(c *taskConfig) { c.paused = true }
}
