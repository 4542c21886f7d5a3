//go:build debug

package pool

import "os"

// Building with -tags debug routes debugLog to stderr instead of
// discarding it, so a full trace of scheduler activity is available
// without changing any call site.
func init() {
	debugLogger.SetOutput(os.Stderr)
}
