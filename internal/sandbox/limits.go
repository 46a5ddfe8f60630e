package sandbox

import (
	"fmt"
	"math"
	"time"
)

// Default per-invocation quotas.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultGracePeriod    = 2 * time.Second
	DefaultMemoryLimit    = 2 << 30  // 2 GiB
	DefaultOutputLimit    = 64 << 10 // 64 KiB
	DefaultSampleInterval = 200 * time.Millisecond
)

// Limits are the resource quotas applied to every case process. They are
// configuration values and are never changed during a run.
type Limits struct {
	// Timeout is the wall-clock bound after which the case is TimedOut.
	Timeout time.Duration

	// GracePeriod bounds how long Run waits for the killed process group and
	// its output pipes after a timeout or cancellation.
	GracePeriod time.Duration

	// MemoryLimit is the RSS ceiling in bytes, enforced by the watchdog. The
	// address space is capped at addressSpaceFactor times this as a backstop.
	// 0 disables both.
	MemoryLimit uint64

	// OutputLimit caps captured stdout+stderr in bytes. Past the cap, the
	// head and the most recent output are kept.
	OutputLimit int

	// StallWindow enables HungNoProgress detection: a process that uses no
	// CPU and writes no output for this long is killed. 0 disables it.
	StallWindow time.Duration

	// SampleInterval is how often the watchdog samples the process group.
	SampleInterval time.Duration
}

// DefaultLimits returns the default quotas.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        DefaultTimeout,
		GracePeriod:    DefaultGracePeriod,
		MemoryLimit:    DefaultMemoryLimit,
		OutputLimit:    DefaultOutputLimit,
		SampleInterval: DefaultSampleInterval,
	}
}

// Validate checks that the limits are usable.
func (l Limits) Validate() error {
	if l.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", l.Timeout)
	}
	if l.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative, got %s", l.GracePeriod)
	}
	if l.OutputLimit <= 0 {
		return fmt.Errorf("output limit must be positive, got %d", l.OutputLimit)
	}
	if l.StallWindow < 0 {
		return fmt.Errorf("stall window must not be negative, got %s", l.StallWindow)
	}
	return nil
}

func (l Limits) sampleInterval() time.Duration {
	if l.SampleInterval <= 0 {
		return DefaultSampleInterval
	}
	return l.SampleInterval
}

// addressSpaceFactor scales MemoryLimit into the RLIMIT_AS backstop. Address
// space runs well ahead of RSS, so capping it at MemoryLimit itself would
// fail allocations inside the case before the watchdog could kill it.
const addressSpaceFactor = 4

func addressSpaceLimit(limit uint64) uint64 {
	if limit > math.MaxUint64/addressSpaceFactor {
		return math.MaxUint64
	}
	return limit * addressSpaceFactor
}
