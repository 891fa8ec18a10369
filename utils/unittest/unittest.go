// Package unittest provides test helpers and fixture generators shared
// across the repository's test suites.
package unittest

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Logger returns a zerolog logger writing through the test's log output, so
// component logs interleave with test output and are only shown on failure.
func Logger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// TempDir creates a directory removed automatically when the test ends.
func TempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "timekeeper-test-")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

// RunWithTempDir runs f with a temporary directory that is removed
// afterwards.
func RunWithTempDir(t *testing.T, f func(dir string)) {
	f(TempDir(t))
}

// RequireReturnsBefore requires that f returns before the duration expires.
func RequireReturnsBefore(t *testing.T, f func(), duration time.Duration, message string) {
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(duration):
		require.Fail(t, "function did not return in time", message)
	}
}

// RequireCloseBefore requires that the channel closes before the duration
// expires.
func RequireCloseBefore(t *testing.T, ch <-chan struct{}, duration time.Duration, message string) {
	select {
	case <-ch:
	case <-time.After(duration):
		require.Fail(t, "channel did not close in time", message)
	}
}
