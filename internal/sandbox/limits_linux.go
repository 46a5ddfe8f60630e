//go:build linux

package sandbox

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// applyMemoryLimit caps the address space of a started process at the
// backstop for limit. The cap is inherited by anything it forks afterwards.
func applyMemoryLimit(pid int, limit uint64) error {
	if limit == 0 {
		return nil
	}
	as := addressSpaceLimit(limit)
	rl := unix.Rlimit{Cur: as, Max: as}
	err := unix.Prlimit(pid, unix.RLIMIT_AS, &rl, nil)
	if errors.Is(err, unix.ESRCH) {
		// Already exited; nothing left to limit.
		return nil
	}
	if err != nil {
		return fmt.Errorf("prlimit RLIMIT_AS=%d on pid %d: %w", as, pid, err)
	}
	return nil
}
