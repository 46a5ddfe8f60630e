// Package sandbox builds and executes reproduction cases in isolation.
//
// Every invocation gets a fresh work directory and runs as the leader of its
// own process group, so a timeout, a memory-ceiling breach or a run-level
// cancellation kills the whole process tree. Limits applied per process:
//
//   - wall clock: the group is SIGKILLed and the result is TimedOut;
//   - memory: RLIMIT_AS on Linux plus an RSS watchdog (gopsutil) everywhere,
//     reported as Crashed with the resource-exhaustion note;
//   - output: stdout and stderr share one capped buffer that keeps draining
//     the pipes after the cap so the child never blocks;
//   - progress (optional): no CPU time and no output for the stall window is
//     HungNoProgress.
//
// How the process ended (exit code, signal, Rust panic and sanitizer
// banners in the output) is mapped to an OutcomeKind here; whether that
// outcome matches the declared bug is decided by the classify package.
package sandbox
