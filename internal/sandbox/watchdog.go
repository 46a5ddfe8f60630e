package sandbox

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// cpuEpsilon is the CPU time (seconds) below which a sample counts as idle.
const cpuEpsilon = 0.005

// usage is one sample of a case's process tree.
type usage struct {
	rss    uint64
	cpu    float64 // user+system seconds
	output int64   // bytes written so far
}

// watchState tracks progress between samples. observe is pure so the kill
// decisions can be tested without a process.
type watchState struct {
	started      bool
	lastCPU      float64
	lastOutput   int64
	lastProgress time.Time
}

// observe returns the kill cause for a sample, or nil to keep running.
func (s *watchState) observe(now time.Time, u usage, limits Limits) error {
	if limits.MemoryLimit > 0 && u.rss > limits.MemoryLimit {
		return errMemoryCeiling
	}
	if !s.started || u.cpu-s.lastCPU > cpuEpsilon || u.output != s.lastOutput {
		s.started = true
		s.lastProgress = now
	}
	s.lastCPU = u.cpu
	s.lastOutput = u.output
	if limits.StallWindow > 0 && now.Sub(s.lastProgress) >= limits.StallWindow {
		return errStalled
	}
	return nil
}

// watch samples the process tree rooted at pid until ctx is done, and cancels
// the run with the kill cause when a ceiling is hit.
func watch(ctx context.Context, pid int, out *boundedBuffer, limits Limits, kill context.CancelCauseFunc) {
	if limits.MemoryLimit == 0 && limits.StallWindow == 0 {
		return
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(limits.sampleInterval())
	defer ticker.Stop()

	var state watchState
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			u, ok := sampleTree(ctx, proc)
			if !ok {
				return
			}
			u.output = out.Written()
			if cause := state.observe(now, u, limits); cause != nil {
				kill(cause)
				return
			}
		}
	}
}

// sampleTree sums RSS and CPU time over proc and its descendants. It reports
// false once the root process is gone.
func sampleTree(ctx context.Context, proc *process.Process) (usage, bool) {
	var u usage
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, false
	}
	u.rss = mem.RSS
	if times, err := proc.TimesWithContext(ctx); err == nil {
		u.cpu = times.User + times.System
	}

	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return u, true
	}
	for _, child := range children {
		if cu, ok := sampleTree(ctx, child); ok {
			u.rss += cu.rss
			u.cpu += cu.cpu
		}
	}
	return u, true
}
