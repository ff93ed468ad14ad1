package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireEnv skips the test unless every named environment variable is set,
// and returns their values in order.
func RequireEnv(t *testing.T, names ...string) []string {
	t.Helper()
	values := make([]string, len(names))
	for i, name := range names {
		v := os.Getenv(name)
		if v == "" {
			t.Skipf("Skipping: %s is not set", name)
		}
		values[i] = v
	}
	return values
}

// TestEnvironment scopes a test to a temporary directory and a bounded
// context. Registered cleanups run in reverse order when the test ends.
type TestEnvironment struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	dir     string
	cleanup []func()
}

// NewTestEnvironment creates an environment whose context expires after
// 30 seconds.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	env := &TestEnvironment{t: t, ctx: ctx, cancel: cancel, dir: t.TempDir()}
	t.Cleanup(env.Cleanup)
	return env
}

func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// Path names a file inside the environment's directory.
func (e *TestEnvironment) Path(name string) string {
	return filepath.Join(e.dir, name)
}

// WriteFile writes content under name and returns its path.
func (e *TestEnvironment) WriteFile(name string, content []byte) string {
	e.t.Helper()
	path := e.Path(name)
	require.NoError(e.t, os.WriteFile(path, content, 0o600))
	return path
}

// AddCleanup registers fn to run before the context is released.
func (e *TestEnvironment) AddCleanup(fn func()) {
	e.cleanup = append(e.cleanup, fn)
}

// Cleanup runs the registered cleanups newest first, then cancels the
// context. Later calls do nothing.
func (e *TestEnvironment) Cleanup() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
	e.cancel()
}
