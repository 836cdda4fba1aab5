package main

import (
	"os"
	"os/signal"
	"runtime"

	"github.com/rs/zerolog"
)

// installStackDump logs the stacks of all goroutines whenever one of
// dumpSignals arrives. The returned func removes the handler.
func installStackDump(log zerolog.Logger) (stop func()) {
	if len(dumpSignals) == 0 {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, dumpSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				log.Warn().Str("signal", sig.String()).Str("goroutines", string(allStacks())).Msg("stack dump requested")
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func allStacks() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
