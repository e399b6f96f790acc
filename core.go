package objpool

import "sync/atomic"

var fallbackCursor atomic.Uint32

// fallbackCore hands out a monotonically advancing core index when the
// platform can't report real CPU placement. It still spreads concurrent
// callers across slots, just without the locality guarantee §4.2 describes
// for a real scheduler-aware placement.
func fallbackCore(numCores int) int {
	n := fallbackCursor.Add(1)
	return int(n) % numCores
}
