package pool

// TaskSnapshot is a point-in-time read of a Task's scheduling state,
// returned by Pool.GetTaskStatus. Unlike Task's own accessor methods, a
// single call to GetTaskStatus reads every field from one scheduler pass
// so the values are mutually consistent.
type TaskSnapshot struct {
	ID                 TaskID
	State              TaskState
	Invocations        int
	ActivePromiseCount int
	FreeSlots          int
}
