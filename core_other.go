//go:build !linux

package objpool

// currentCore falls back to a pseudo-core assignment on platforms where
// golang.org/x/sys/unix has no SchedGetcpu. It still distributes callers
// across slots; it just can't promise the distribution tracks the OS
// scheduler's real placement.
func currentCore(numCores int) int {
	return fallbackCore(numCores)
}
