package pool

import (
	"fmt"
	"sync/atomic"
)

// TaskID identifies a Task within the Pool that created it. IDs are opaque;
// callers that don't supply one via WithTaskID get an autogenerated value.
type TaskID string

// GroupID identifies a Group within the Pool that created it.
type GroupID string

var idCounter atomic.Uint64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}
