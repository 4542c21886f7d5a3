package pool

import (
	"fmt"
	"io"
	"log"
)

var debugLogger = log.New(io.Discard, "[POOL DEBUG] ", log.Ltime|log.Lmicroseconds|log.Lshortfile)

// debugLog records scheduler-internal events: every invocation, every
// batch dispatch, and the default unhandled and dropped rejection
// reporting. Its output is discarded unless the package is built with
// -tags debug.
func debugLog(format string, args ...any) {
	debugLogger.Output(2, fmt.Sprintf(format, args...)) //nolint:errcheck
}
