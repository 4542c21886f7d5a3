package pool

import (
	"context"
	"errors"
	"time"
)

// runSchedulerPassLocked is the heart of the pool: it repeatedly walks
// every registered task looking for one that is Active, not deferred past
// its construction or an ancestor invocation, under its invocation limit,
// and whose groups are all Ready, starting every such task's next
// invocation. A pass repeats as long as the previous sweep started at
// least one invocation, because starting one can change another task's
// group readiness (most commonly, filling the last free slot in a shared
// group makes every other task sharing it briefly Indefinite). Once a full
// sweep starts nothing, the pass arms a single wake-up at the soonest time
// any skipped task's frequency window will next admit it, and returns.
//
// Every external trigger named in this package's design, task
// construction, invocation completion, a limit mutation, Task.Resume, the
// wake-up timer, and PersistentBatchTask dispatch, ends by calling this
// method (or its alias, triggerLocked) while already running on the
// scheduling loop.
func (p *Pool) runSchedulerPassLocked() {
	p.cancelWakeTimerLocked()
	for {
		for _, t := range p.snapshotTasksLocked() {
			p.checkTaskCompletionLocked(t)
		}

		progressed := false
		haveWake := false
		var soonestWake time.Time
		now := p.clock.Now()

		// The pool's global group sits in every task's groups[0], so its
		// busy state is common to the whole pass. Checking it once up front
		// lets a fully saturated pool skip the per-task loop entirely; it
		// is still folded into each task's own busy computation below,
		// since invocations started earlier in this same pass can push it
		// from Ready to saturated partway through.
		p.global.cleanFrequencyStartsLocked(now)
		if p.global.busyTimeLocked().Indefinite() {
			return
		}

		for _, t := range p.snapshotTasksLocked() {
			if t.state != TaskActive || t.blockedByInvocation != nil || t.awaitingFirstTick {
				continue
			}
			if t.invocationLimit != Unbounded && t.invocations >= t.invocationLimit {
				continue
			}

			busy := readyState()
			for _, g := range t.groups {
				g.cleanFrequencyStartsLocked(now)
				busy = laterBusy(busy, g.busyTimeLocked())
			}

			switch {
			case busy.Indefinite():
				continue
			case !busy.Ready():
				if !haveWake || busy.At().Before(soonestWake) {
					soonestWake = busy.At()
					haveWake = true
				}
				continue
			}

			p.invokeLocked(t, now)
			progressed = true
		}

		if !progressed {
			if haveWake {
				p.armWakeTimerLocked(soonestWake)
			}
			return
		}
	}
}

// triggerLocked is the name Group and Task mutation points call by; it is
// exactly runSchedulerPassLocked under a name that reads better at a call
// site that isn't itself about running invocations.
func (p *Pool) triggerLocked() { p.runSchedulerPassLocked() }

func (p *Pool) snapshotTasksLocked() []*Task {
	return append([]*Task(nil), p.tasks...)
}

// checkTaskCompletionLocked terminates a task once it has both stopped
// generating (hit its invocation limit, been told End, or had its
// generator return ErrNoMoreWork) and drained every in-flight invocation.
func (p *Pool) checkTaskCompletionLocked(t *Task) {
	if t.state == TaskTerminated {
		return
	}
	exhausted := t.invocationLimit != Unbounded && t.invocations >= t.invocationLimit
	if (exhausted || t.state == TaskExhausted) && t.privateGroup.activePromiseCount == 0 {
		t.terminateLocked()
	}
}

// invokeLocked starts task t's next invocation on its own goroutine and
// arranges for completeInvocationLocked to run back on the scheduling loop
// once it returns.
func (p *Pool) invokeLocked(t *Task, now time.Time) {
	idx := t.invocations
	t.invocations++
	rec := &invocationRecord{task: t, index: idx}
	for _, g := range t.groups {
		if marker := g.recordInvocationStartLocked(now); marker != nil {
			rec.freqMarkers = append(rec.freqMarkers, freqMarker{group: g, marker: marker})
		}
	}

	ctx := context.WithValue(context.Background(), invocationCtxKey, rec)
	gen := t.generator

	debugLog("invoking task %s #%d", t.id, idx)
	go func() {
		val, err := gen(ctx, idx)
		p.cmdCh <- func() { p.completeInvocationLocked(t, idx, rec, val, err) }
	}()
}

// completeInvocationLocked applies one invocation's outcome: it frees the
// group slots the invocation held, unblocks any task that was constructed
// synchronously during the call, records a value, ends the task on
// ErrNoMoreWork, or fails the task, and finally re-runs the scheduler since
// freeing a slot can unblock other tasks sharing a group.
func (p *Pool) completeInvocationLocked(t *Task, idx int, rec *invocationRecord, val any, err error) {
	for _, g := range t.groups {
		g.releaseInvocationLocked()
	}
	for _, pending := range rec.pendingTasks {
		pending.blockedByInvocation = nil
	}
	rec.pendingTasks = nil

	switch {
	case err == nil:
		if val != nil {
			t.setResultLocked(idx, val)
		}
	case errors.Is(err, ErrNoMoreWork):
		t.invocations--
		for _, fm := range rec.freqMarkers {
			fm.group.removeFrequencyStartLocked(fm.marker)
		}
		if t.state == TaskActive {
			t.endLocked()
		}
	default:
		t.failLocked(err)
	}

	p.checkTaskCompletionLocked(t)
	p.runSchedulerPassLocked()
}

func (p *Pool) cancelWakeTimerLocked() {
	if p.wakeTimer != nil {
		p.wakeTimer.Stop()
		p.wakeTimer = nil
	}
}

func (p *Pool) armWakeTimerLocked(at time.Time) {
	d := at.Sub(p.clock.Now())
	if d < 0 {
		d = 0
	}
	p.wakeTimer = p.clock.AfterFunc(d, func() {
		p.do(func() { p.runSchedulerPassLocked() })
	})
}
