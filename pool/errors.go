package pool

import "errors"

// Validation errors, returned synchronously from construction.
var (
	ErrInvalidConcurrencyLimit = errors.New("pool: concurrency limit must be positive")
	ErrInvalidFrequencyLimit   = errors.New("pool: frequency limit must be positive")
	ErrFrequencyWindowRequired = errors.New("pool: frequency window is required when a frequency limit is set")
	ErrInvalidInvocationLimit  = errors.New("pool: invocation limit must be zero or positive")
	ErrInvalidBatchSize        = errors.New("pool: max batch size must be positive")
	ErrInvalidQueuingDelay     = errors.New("pool: queuing delay must be zero or positive")
	ErrInvalidQueuingThreshold = errors.New("pool: queuing thresholds must be positive and non-decreasing")
	ErrCrossPoolGroup          = errors.New("pool: group belongs to a different pool")
	ErrDuplicateTaskID         = errors.New("pool: task id already registered")
	ErrNilGenerator            = errors.New("pool: generator must not be nil")
)

// Runtime errors.
var (
	// ErrTaskTerminated is returned by operations that require a live task
	// (e.g. mutating limits) once the task has reached TaskTerminated.
	ErrTaskTerminated = errors.New("pool: task is terminated")

	// ErrBatchTerminated is returned by GetResult once End has been called on
	// a PersistentBatchTask, and rejects every input still queued at End.
	ErrBatchTerminated = errors.New("pool: batch task is terminated")

	// ErrBatchShapeMismatch is the rejection delivered to every waiter in a
	// batch whose generator returned an output slice of the wrong length.
	ErrBatchShapeMismatch = errors.New("pool: batch generator returned a different number of outputs than inputs")

	// ErrBatchValueType is the rejection delivered to a single waiter whose
	// corresponding output value could not be asserted to the batch's
	// declared output type.
	ErrBatchValueType = errors.New("pool: batch generator returned a value of the wrong type")

	// ErrInvalidBatchSizeFunc is a task failure recorded when a dynamic batch
	// size function returns a non-positive value.
	ErrInvalidBatchSizeFunc = errors.New("pool: batch size function returned a non-positive value")

	// ErrResultType is returned by SingleTask.Promise when the task's stored
	// result cannot be asserted back to the task's declared result type.
	ErrResultType = errors.New("pool: task result has an unexpected type")

	// ErrNoMoreWork is the sentinel a Generator returns to signal that a task
	// has no further invocations. It is never surfaced to a caller as a
	// failure and contributes no entry to the task's result sequence.
	ErrNoMoreWork = errors.New("pool: no more work")

	// ErrPoolClosed is returned by AddGroup and AddGenericTask once Shutdown
	// has closed the pool; no new groups or tasks can be registered after.
	ErrPoolClosed = errors.New("pool: pool is closed")

	// ErrShutdownTimeout is returned by Pool.Shutdown when tasks are still
	// active once the given timeout elapses.
	ErrShutdownTimeout = errors.New("pool: shutdown timed out waiting for active tasks")
)
