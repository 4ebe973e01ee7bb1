// Package guard switches binaries into test mode when imported from a test,
// so calling main() returns before any backend is dialled.
package guard

import (
	"os"
	"sync"
)

// TestModeEnv mirrors the flag read by app.InTestMode.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(TestModeEnv) == "" {
			_ = os.Setenv(TestModeEnv, "1")
		}
	})
}
