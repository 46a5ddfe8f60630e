//go:build !linux

package sandbox

// applyMemoryLimit is a no-op where prlimit is unavailable. The watchdog's
// RSS ceiling still applies.
func applyMemoryLimit(pid int, limit uint64) error {
	return nil
}
