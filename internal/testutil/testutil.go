// Package testutil provides testing utilities for termctl tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// SkipIfNoBinary skips the test if name is not installed.
func SkipIfNoBinary(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found in PATH, skipping test", name)
	}
}

// SkipIfNoXvfb skips the test if the Xvfb framebuffer server is not installed.
func SkipIfNoXvfb(t *testing.T) {
	t.Helper()
	SkipIfNoBinary(t, "Xvfb")
}

// SkipIfNoXterm skips the test if xterm is not installed.
func SkipIfNoXterm(t *testing.T) {
	t.Helper()
	SkipIfNoBinary(t, "xterm")
}

// SkipIfNoXdotool skips the test if xdotool is not installed.
func SkipIfNoXdotool(t *testing.T) {
	t.Helper()
	SkipIfNoBinary(t, "xdotool")
}

// SkipIfNoImport skips the test if ImageMagick's import is not installed.
func SkipIfNoImport(t *testing.T) {
	t.Helper()
	SkipIfNoBinary(t, "import")
}

// SkipIfNoDisplayStack skips the test unless every external binary a real
// session needs is installed.
func SkipIfNoDisplayStack(t *testing.T) {
	t.Helper()
	SkipIfNoXvfb(t)
	SkipIfNoXterm(t)
	SkipIfNoXdotool(t)
	SkipIfNoImport(t)
}

// WriteExecutable writes a shell script named name into dir and returns its
// path. The script body runs under /bin/sh.
func WriteExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
