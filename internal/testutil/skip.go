package testutil

import "testing"

// SkipIfShort skips the test under -short. Use this for slow tests
// that exercise real timers.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping slow test in short mode")
	}
}
