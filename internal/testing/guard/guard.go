package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LEDGERCORE_TEST_MODE") == "" {
			_ = os.Setenv("LEDGERCORE_TEST_MODE", "1")
		}
	})
}
