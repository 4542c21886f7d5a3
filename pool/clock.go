package pool

import "github.com/zoobzio/clockz"

// Clock reports the current time and arranges deferred wake-ups. It is the
// only source of time the scheduler consults, which makes the scheduler's
// timing behavior reproducible under a fake clock in tests.
type Clock = clockz.Clock

// Timer is a single-shot or resettable wake-up handle returned by a Clock.
type Timer = clockz.Timer

// RealClock is the production Clock backed by the standard library's time
// package. It is the default used by New when WithClock is not supplied.
var RealClock Clock = clockz.RealClock
