//go:build linux

package objpool

import "golang.org/x/sys/unix"

// currentCore returns the logical CPU the calling goroutine is running on
// right now. It is advisory only — the goroutine may be rescheduled to a
// different core the instant this call returns — which is exactly the
// property spec §4.2's cross-core search is built to tolerate: a push or
// pop that starts its search on the "wrong" slot just walks to the next one.
func currentCore(numCores int) int {
	cpu, err := unix.SchedGetcpu()
	if err != nil || cpu < 0 {
		return fallbackCore(numCores)
	}
	return cpu % numCores
}
