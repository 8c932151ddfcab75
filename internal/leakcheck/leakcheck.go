// Package leakcheck provides a lightweight goroutine-leak check for use in
// TestMain, in place of a full third-party leak detector: it snapshots
// goroutine stacks before and after a test binary runs and fails loudly if
// any the module's own dispatch-thread goroutines are still around.
package leakcheck

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Ignore is a goroutine stack substring that should not be counted as a
// leak (e.g. the testing framework's own background goroutines).
var Ignore = []string{
	"testing.(*T).Run",
	"testing.(*M).Run",
	"created by runtime.gc",
	"created by os/signal.init",
}

// Snapshot returns the current set of goroutine stacks, excluding anything
// matching Ignore.
func Snapshot() []string {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	stacks := strings.Split(string(buf[:n]), "\n\n")

	out := make([]string, 0, len(stacks))
outer:
	for _, s := range stacks {
		if s == "" {
			continue
		}
		for _, ig := range Ignore {
			if strings.Contains(s, ig) {
				continue outer
			}
		}
		out = append(out, s)
	}
	return out
}

// Check waits up to timeout for the goroutine count to settle back to
// baseline (dispatch threads shut down asynchronously on Close) and returns
// a non-empty report if goroutines are still outstanding afterward.
func Check(baseline []string, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	var now []string
	for {
		now = Snapshot()
		if len(now) <= len(baseline) {
			return ""
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "leakcheck: %d goroutine(s) still running after test (baseline %d):\n", len(now), len(baseline))
	for _, s := range now {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	return b.String()
}
