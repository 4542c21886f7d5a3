package pool

import (
	"context"
	"sync"
)

// Resolvable is a single-shot value-or-error notifier. The first call to
// Resolve or Reject wins; later calls are no-ops. It backs every promise
// this package hands back to callers: Task.Promise, Group.WaitForIdle, and
// the per-item output of PersistentBatchTask.GetResult.
type Resolvable[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewResolvable creates an unresolved Resolvable.
func NewResolvable[T any]() *Resolvable[T] {
	return &Resolvable[T]{done: make(chan struct{})}
}

// Resolve completes the Resolvable successfully with val. Only the first
// call (Resolve or Reject) has any effect.
func (r *Resolvable[T]) Resolve(val T) {
	r.once.Do(func() {
		r.val = val
		close(r.done)
	})
}

// Reject completes the Resolvable with err. Only the first call (Resolve or
// Reject) has any effect.
func (r *Resolvable[T]) Reject(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done returns a channel that is closed once the Resolvable is resolved or
// rejected.
func (r *Resolvable[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the Resolvable settles or ctx is done, whichever comes
// first.
func (r *Resolvable[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek reports whether the Resolvable has already settled and, if so, its
// value and error. It never blocks.
func (r *Resolvable[T]) Peek() (val T, err error, settled bool) {
	select {
	case <-r.done:
		return r.val, r.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// chainResolvable returns a Resolvable[D] that settles once src settles,
// converting a successful value through convert. A convert failure rejects
// the returned Resolvable. It backs SingleTask.Promise, which exposes a
// Task's []any result sequence as a single typed value.
func chainResolvable[S, D any](src *Resolvable[S], convert func(S) (D, error)) *Resolvable[D] {
	dst := NewResolvable[D]()
	go func() {
		val, err := src.Wait(context.Background())
		if err != nil {
			dst.Reject(err)
			return
		}
		out, err := convert(val)
		if err != nil {
			dst.Reject(err)
			return
		}
		dst.Resolve(out)
	}()
	return dst
}
