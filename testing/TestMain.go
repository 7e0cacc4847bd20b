// Package testing switches the application into test mode when imported by
// test binaries, so runtime side effects such as the worker and cache
// listeners stay off.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("HMS_TEST_MODE", "1")
		if os.Getenv("PERMISSION_CACHE_DRIVER") == "" {
			_ = os.Setenv("PERMISSION_CACHE_DRIVER", "memory")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
