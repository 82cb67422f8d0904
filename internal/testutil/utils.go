package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the running test's name, so
// output from gateway and room goroutines stays attributable when tests
// run in parallel.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
	t.Cleanup(func() {
		// goroutines outliving the test must not write through t
		logger.SetOutput(os.Stderr)
	})
	return logger
}
