package notify

import (
	"os"
	"testing"
	"time"

	"github.com/watchkit/notify/internal/leakcheck"
)

// TestMain wraps the whole package's test run with a goroutine-leak check,
// catching a backend whose loop() goroutine survives its own close().
func TestMain(m *testing.M) {
	baseline := leakcheck.Snapshot()
	code := m.Run()
	if report := leakcheck.Check(baseline, time.Second); report != "" && code == 0 {
		println(report)
		code = 1
	}
	os.Exit(code)
}
