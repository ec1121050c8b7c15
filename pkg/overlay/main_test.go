package overlay

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies every actor-loop goroutine this package's tests spin
// up via Start() is gone by the time the package's tests finish, catching
// a Close() that forgot to stop a ticker or drain a channel.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
