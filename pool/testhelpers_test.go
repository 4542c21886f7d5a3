package pool

import "testing"

// newTestPool constructs a Pool for a test and fails it immediately if
// construction returns an error, since the options a test passes are never
// expected to be invalid.
func newTestPool(t *testing.T, opts ...PoolOption) *Pool {
	t.Helper()
	p, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}
