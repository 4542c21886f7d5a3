package pool

import (
	"context"
	"time"

	"github.com/gammazero/deque"
)

// Unbounded marks a concurrency or invocation limit as having no ceiling.
const Unbounded = -1

// Group bundles a concurrency limit and an optional sliding-window frequency
// limit shared by one or more tasks. Every task belongs to at least two
// groups: the owning Pool's global group, and a private group that exists
// only to hold that task's own limits. Groups may additionally be shared
// across tasks via AddGroup and WithTaskGroups to cap a set of tasks
// together.
//
// All Group state is mutated exclusively by the Pool's scheduling loop; the
// exported methods marshal onto that loop, so a Group is safe to read and
// mutate from any goroutine.
type Group struct {
	id   GroupID
	pool *Pool

	concurrencyLimit int // Unbounded or >= 1
	frequencyLimit   int // 0 disables frequency limiting
	frequencyWindow  time.Duration

	activeTaskCount    int
	activePromiseCount int
	frequencyStarts    deque.Deque[*time.Time]

	idleWaiters []*Resolvable[struct{}]
	rejection   *groupRejection
}

type groupRejection struct {
	source   *Task
	err      error
	handled  bool
	reported bool
}

func newGroup(id GroupID, p *Pool, concurrencyLimit, frequencyLimit int, frequencyWindow time.Duration) *Group {
	return &Group{
		id:               id,
		pool:             p,
		concurrencyLimit: concurrencyLimit,
		frequencyLimit:   frequencyLimit,
		frequencyWindow:  frequencyWindow,
	}
}

// ID returns the Group's opaque identifier.
func (g *Group) ID() GroupID { return g.id }

// ActiveTaskCount returns the number of tasks currently holding a slot in
// this group.
func (g *Group) ActiveTaskCount() int {
	var n int
	g.pool.do(func() { n = g.activeTaskCount })
	return n
}

// ActivePromiseCount returns the number of in-flight invocations charged
// against this group's concurrency limit.
func (g *Group) ActivePromiseCount() int {
	var n int
	g.pool.do(func() { n = g.activePromiseCount })
	return n
}

// SetConcurrencyLimit changes the group's concurrency limit at runtime and
// re-evaluates the scheduler, since raising a limit can unblock tasks.
func (g *Group) SetConcurrencyLimit(limit int) error {
	if limit != Unbounded && limit < 1 {
		return ErrInvalidConcurrencyLimit
	}
	g.pool.do(func() {
		g.concurrencyLimit = limit
		g.pool.triggerLocked()
	})
	return nil
}

// SetFrequencyLimit changes the group's frequency limit and window together.
// Passing limit 0 disables frequency limiting and clears any recorded
// invocation timestamps.
func (g *Group) SetFrequencyLimit(limit int, window time.Duration) error {
	if limit != 0 && limit < 1 {
		return ErrInvalidFrequencyLimit
	}
	if limit != 0 && window <= 0 {
		return ErrFrequencyWindowRequired
	}
	g.pool.do(func() {
		g.frequencyLimit = limit
		g.frequencyWindow = window
		if limit == 0 {
			g.frequencyStarts.Clear()
		}
		g.pool.triggerLocked()
	})
	return nil
}

// WaitForIdle returns once the group has no active tasks and no unclaimed
// rejection, or returns the group's recorded error if one is pending.
func (g *Group) WaitForIdle(ctx context.Context) error {
	waiter := NewResolvable[struct{}]()
	g.pool.do(func() {
		g.registerIdleWaiterLocked(waiter)
	})
	_, err := waiter.Wait(ctx)
	return err
}

// registerIdleWaiterLocked must run on the pool's scheduling loop.
func (g *Group) registerIdleWaiterLocked(waiter *Resolvable[struct{}]) {
	if g.rejection != nil {
		g.claimRejectionLocked()
		waiter.Reject(g.rejection.err)
		return
	}
	if g.activeTaskCount == 0 {
		waiter.Resolve(struct{}{})
		return
	}
	g.idleWaiters = append(g.idleWaiters, waiter)
}

// incrementTasksLocked and decrementTasksLocked track how many tasks
// currently claim a slot in the group; must run on the scheduling loop.
func (g *Group) incrementTasksLocked() { g.activeTaskCount++ }

func (g *Group) decrementTasksLocked() {
	g.activeTaskCount--
	if g.activeTaskCount == 0 {
		g.settleIdleLocked()
	}
}

// settleIdleLocked resolves pending idle waiters (or clears a stale
// rejection) once the group has drained to zero active tasks.
func (g *Group) settleIdleLocked() {
	if g.rejection != nil {
		g.rejection = nil
	}
	waiters := g.idleWaiters
	g.idleWaiters = nil
	for _, w := range waiters {
		w.Resolve(struct{}{})
	}
}

// rejectLocked records the group's first error (subsequent ones are
// dropped) and rejects any idle waiters already registered.
func (g *Group) rejectLocked(source *Task, err error) {
	if g.rejection != nil {
		return
	}
	g.rejection = &groupRejection{source: source, err: err}
	waiters := g.idleWaiters
	g.idleWaiters = nil
	for _, w := range waiters {
		g.claimRejectionLocked()
		w.Reject(err)
	}
}

// claimRejectionLocked marks the group's pending rejection as handled and,
// since the rejection always originates from a member task's own failure,
// marks that task's rejection handled too, so the same failure doesn't
// surface twice through UnhandledRejectionHandler.
func (g *Group) claimRejectionLocked() {
	if g.rejection == nil || g.rejection.handled {
		return
	}
	g.rejection.handled = true
	if src := g.rejection.source; src != nil && src.rejection != nil {
		src.rejection.handled = true
		src.notifyHandledLocked()
	}
}

// cleanFrequencyStartsLocked purges timestamps that have fallen out of the
// sliding window. Must run on the scheduling loop.
func (g *Group) cleanFrequencyStartsLocked(now time.Time) {
	if g.frequencyLimit == 0 {
		return
	}
	cutoff := now.Add(-g.frequencyWindow)
	for g.frequencyStarts.Len() > 0 && !g.frequencyStarts.Front().After(cutoff) {
		g.frequencyStarts.PopFront()
	}
}

// busyTimeLocked computes this group's current readiness. Must run on the
// scheduling loop, after cleanFrequencyStartsLocked.
func (g *Group) busyTimeLocked() BusyState {
	if g.concurrencyLimit != Unbounded && g.activePromiseCount >= g.concurrencyLimit {
		return busyIndefiniteState()
	}
	if g.frequencyLimit > 0 && g.frequencyStarts.Len() >= g.frequencyLimit {
		return busyUntilState(g.frequencyStarts.Front().Add(g.frequencyWindow))
	}
	return readyState()
}

// recordInvocationStartLocked bumps the active promise count and, if this
// group rate-limits, appends the invocation's start time to the sliding
// window, returning a marker that identifies that entry so a probe that
// turns out not to be a real invocation can remove it again via
// removeFrequencyStartLocked. Must run on the scheduling loop.
func (g *Group) recordInvocationStartLocked(now time.Time) *time.Time {
	g.activePromiseCount++
	if g.frequencyLimit == 0 {
		return nil
	}
	marker := new(time.Time)
	*marker = now
	g.frequencyStarts.PushBack(marker)
	return marker
}

// removeFrequencyStartLocked undoes one recordInvocationStartLocked entry by
// identity, regardless of how many other entries have since been pushed or
// purged ahead of it. Used to back out the window slot an invocation that
// turned out to be an ErrNoMoreWork probe never actually used.
func (g *Group) removeFrequencyStartLocked(marker *time.Time) {
	if marker == nil {
		return
	}
	n := g.frequencyStarts.Len()
	for i := 0; i < n; i++ {
		cur := g.frequencyStarts.PopFront()
		if cur == marker {
			continue
		}
		g.frequencyStarts.PushBack(cur)
	}
}

func (g *Group) releaseInvocationLocked() {
	g.activePromiseCount--
}
