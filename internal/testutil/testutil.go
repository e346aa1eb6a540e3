// Package testutil provides testing utilities for quorum tests.
//
// The helpers here write small shell scripts into a test's temporary
// directory and hand back their paths, giving executor and scheduler tests
// deterministic stand-in agents without any real AI CLI installed.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes an executable shell script with the given body into
// dir and returns its path. The script is removed with the test's temp
// directory.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}

// EchoAgent returns a script that copies its standard input to standard
// output and exits 0. Used to verify payload delivery fidelity.
func EchoAgent(t *testing.T, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "echo-agent.sh", "cat")
}

// PrintAgent returns a script that prints output to stdout and exits 0,
// ignoring its input entirely.
func PrintAgent(t *testing.T, dir, output string) string {
	t.Helper()
	return WriteScript(t, dir, "print-agent.sh", fmt.Sprintf("printf '%%s' %q", output))
}

// SleepAgent returns a script that sleeps for the given number of seconds
// and never produces output. Used to exercise timeouts.
func SleepAgent(t *testing.T, dir string, seconds int) string {
	t.Helper()
	return WriteScript(t, dir, "sleep-agent.sh", fmt.Sprintf("sleep %d", seconds))
}

// StderrAgent returns a script that writes msg to stderr and exits with
// the given code.
func StderrAgent(t *testing.T, dir, msg string, exitCode int) string {
	t.Helper()
	body := fmt.Sprintf("printf '%%s\\n' %q >&2\nexit %d", msg, exitCode)
	return WriteScript(t, dir, "stderr-agent.sh", body)
}

// CrashAgent returns a script that exits with the given non-zero code
// after printing nothing.
func CrashAgent(t *testing.T, dir string, exitCode int) string {
	t.Helper()
	return WriteScript(t, dir, "crash-agent.sh", fmt.Sprintf("exit %d", exitCode))
}

// FlakyAgent returns a script that fails with exit code 1 until it has
// been invoked succeedAfter times, then prints output and exits 0. The
// invocation count is kept in a state file under dir, so the script is
// deterministic across retries within one test.
func FlakyAgent(t *testing.T, dir string, succeedAfter int, output string) string {
	t.Helper()

	stateFile := filepath.Join(dir, "flaky-count")
	body := fmt.Sprintf(`count=$(cat %[1]q 2>/dev/null || echo 0)
count=$((count + 1))
echo "$count" > %[1]q
if [ "$count" -lt %[2]d ]; then
  exit 1
fi
printf '%%s' %[3]q`, stateFile, succeedAfter, output)
	return WriteScript(t, dir, "flaky-agent.sh", body)
}

// SpawningAgent returns a script that spawns a background child which
// sleeps for childSeconds, then itself sleeps forever. Used to verify that
// a timeout kill reaps the whole process group.
//
// The background child's PID is written to pidFile so the test can confirm
// it is gone afterward.
func SpawningAgent(t *testing.T, dir, pidFile string, childSeconds int) string {
	t.Helper()
	body := fmt.Sprintf(`sleep %d &
echo $! > %q
wait`, childSeconds, pidFile)
	return WriteScript(t, dir, "spawning-agent.sh", body)
}

// InvocationCount reads the counter written by FlakyAgent.
func InvocationCount(t *testing.T, dir string) int {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, "flaky-count"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("failed to read flaky-count: %v", err)
	}
	var n int
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		t.Fatalf("failed to parse flaky-count %q: %v", data, err)
	}
	return n
}
