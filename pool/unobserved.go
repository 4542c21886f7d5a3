package pool

// UnhandledRejectionHandler is invoked when a task fails and, after one
// full trip through the scheduling loop, nothing has observed the failure
// by calling Promise or WaitForIdle on a group the task belongs to.
// Replace it to route unhandled task failures to your own logging or
// alerting; the default writes through this package's debug logger.
var UnhandledRejectionHandler func(taskID TaskID, err error) = defaultUnhandledRejectionHandler

func defaultUnhandledRejectionHandler(taskID TaskID, err error) {
	debugLog("unhandled rejection from task %s: %v", taskID, err)
}

// RejectionHandledHandler is invoked when a previously reported unhandled
// rejection is observed after the fact, so an alerting integration built on
// UnhandledRejectionHandler can retract whatever it raised. The default
// does nothing.
var RejectionHandledHandler func(taskID TaskID, err error)

func unhandledRejectionHandler(id any, err error) {
	taskID, ok := id.(TaskID)
	if !ok || UnhandledRejectionHandler == nil {
		return
	}
	UnhandledRejectionHandler(taskID, err)
}

func rejectionHandledHandler(id any, err error) {
	taskID, ok := id.(TaskID)
	if !ok || RejectionHandledHandler == nil {
		return
	}
	RejectionHandledHandler(taskID, err)
}

// reportDroppedFailure records a second or later failure from a task whose
// first failure was already recorded. Only the first rejection per task is
// kept; later ones would otherwise vanish silently, so they go through the
// debug logger instead.
func reportDroppedFailure(taskID TaskID, err error) {
	debugLog("dropped additional failure from task %s: %v", taskID, err)
}
