// Command coherencesim runs cores with private L1 caches over a shared L2
// and reports how the coherence protocol behaved.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	loadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
