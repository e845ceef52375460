package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for test code, tagged so its output is
// distinguishable from the server's own.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()
	logger := log.New(os.Stdout, "[roomstate-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
