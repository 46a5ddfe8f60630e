package sandbox

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeOf(t *testing.T) {
	const panicOut = "thread 'main' panicked at src/main.rs:40:52:\nIterator panicked\n"

	tests := []struct {
		name     string
		cause    error
		exitCode int
		signal   string
		output   string
		capped   bool
		want     OutcomeKind
		wantNote string
	}{
		{name: "clean exit", exitCode: 0, want: Completed},
		{name: "nonzero exit", exitCode: 3, want: Completed, wantNote: NoteNonZeroExit},
		{name: "rust panic", exitCode: 101, output: panicOut, want: Panicked},
		{name: "101 without panic text", exitCode: 101, want: Completed, wantNote: NoteNonZeroExit},
		{name: "segfault", exitCode: -1, signal: "SIGSEGV", want: Crashed},
		{name: "bus error", exitCode: -1, signal: "SIGBUS", want: Crashed},
		{name: "plain abort", exitCode: -1, signal: "SIGABRT", want: Crashed},
		{name: "abort after panic", exitCode: -1, signal: "SIGABRT", output: panicOut + "thread panicked while panicking. aborting.\n", want: Panicked, wantNote: NoteAbortedAfterPanic},
		{name: "stack overflow", exitCode: -1, signal: "SIGABRT", output: "\nthread 'main' has overflowed its stack\nfatal runtime error: stack overflow\n", want: Crashed},
		{name: "allocation failure", exitCode: -1, signal: "SIGABRT", output: "memory allocation of 4294967296 bytes failed\n", want: Crashed, wantNote: NoteResourceExhaustion},
		{name: "other signal", exitCode: -1, signal: "SIGUSR1", want: Crashed, wantNote: "signal SIGUSR1"},
		{name: "sanitizer beats exit code", exitCode: 1, output: "==4242==ERROR: AddressSanitizer: heap-use-after-free on address", want: SanitizerFlagged},
		{name: "thread sanitizer", exitCode: 66, output: "WARNING: ThreadSanitizer: data race (pid=7)", want: SanitizerFlagged},
		{name: "timeout beats everything", cause: errWallClock, exitCode: -1, signal: "SIGKILL", output: "ERROR: AddressSanitizer", want: TimedOut},
		{name: "memory ceiling", cause: errMemoryCeiling, exitCode: -1, signal: "SIGKILL", want: Crashed, wantNote: NoteResourceExhaustion},
		{name: "stalled", cause: errStalled, exitCode: -1, signal: "SIGKILL", want: HungNoProgress},
		{name: "enomem under ceiling", exitCode: 1, output: "tail: memory exhausted\n", capped: true, want: Crashed, wantNote: NoteResourceExhaustion},
		{name: "thread spawn enomem", exitCode: 101, output: "thread 'main' panicked at library/std/src/thread/mod.rs:\nfailed to spawn thread: Os { code: 12, kind: OutOfMemory, message: \"Cannot allocate memory\" }\n", capped: true, want: Crashed, wantNote: NoteResourceExhaustion},
		{name: "enomem without ceiling", exitCode: 1, output: "tail: memory exhausted\n", want: Completed, wantNote: NoteNonZeroExit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, note := outcomeOf(tt.cause, tt.exitCode, tt.signal, tt.output, "", tt.capped)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNote, note)
		})
	}
}

func TestBoundedBufferKeepsHeadAndTail(t *testing.T) {
	b := newBoundedBuffer(10)

	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = b.Write([]byte(" world, and more"))
	require.NoError(t, err)
	assert.Equal(t, 16, n, "writes past the cap still report full length")

	n, err = b.Write([]byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	out, truncated := b.Snapshot()
	assert.Equal(t, "hello\n[... 18 bytes omitted ...]\nopped", out)
	assert.True(t, truncated)
	assert.Equal(t, int64(28), b.Written())
}

func TestBoundedBufferExactFit(t *testing.T) {
	b := newBoundedBuffer(5)
	_, _ = b.Write([]byte("12345"))
	out, truncated := b.Snapshot()
	assert.Equal(t, "12345", out)
	assert.False(t, truncated)

	_, _ = b.Write(nil)
	_, truncated = b.Snapshot()
	assert.False(t, truncated, "an empty write drops nothing")
}

func TestBoundedBufferTailWraps(t *testing.T) {
	b := newBoundedBuffer(8)
	for _, chunk := range []string{"abcd", "ef", "gh", "ijk", "l"} {
		_, _ = b.Write([]byte(chunk))
	}

	out, truncated := b.Snapshot()
	assert.Equal(t, "abcd\n[... 4 bytes omitted ...]\nijkl", out)
	assert.True(t, truncated)
}

func TestBoundedBufferKeepsLateMarker(t *testing.T) {
	b := newBoundedBuffer(256)
	for i := 0; i < 100; i++ {
		_, _ = b.Write([]byte("filler output line\n"))
	}
	_, _ = b.Write([]byte("thread 'main' panicked at src/main.rs:3:5:\n"))

	out, truncated := b.Snapshot()
	assert.True(t, truncated)
	assert.True(t, strings.HasPrefix(out, "filler output line\n"))
	assert.True(t, strings.HasSuffix(out, "panicked at src/main.rs:3:5:\n"))
}

func TestBoundedBufferConcurrentWriters(t *testing.T) {
	b := newBoundedBuffer(1 << 10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_, _ = b.Write([]byte("0123456789"))
			}
		}()
	}
	wg.Wait()

	out, truncated := b.Snapshot()
	assert.True(t, truncated)
	assert.True(t, strings.HasPrefix(out, "0123456789"))
	assert.True(t, strings.HasSuffix(out, "0123456789"))
	assert.Contains(t, out, "[... 78976 bytes omitted ...]")
	assert.Equal(t, int64(80000), b.Written())
}

func TestWatchStateMemoryCeiling(t *testing.T) {
	var s watchState
	limits := Limits{MemoryLimit: 100}
	now := time.Unix(0, 0)

	assert.NoError(t, s.observe(now, usage{rss: 100}, limits))
	assert.ErrorIs(t, s.observe(now.Add(time.Second), usage{rss: 101}, limits), errMemoryCeiling)
}

func TestAddressSpaceLimit(t *testing.T) {
	assert.Equal(t, uint64(256<<20), addressSpaceLimit(64<<20))
	assert.Equal(t, uint64(math.MaxUint64), addressSpaceLimit(math.MaxUint64/2))
}

func TestWatchStateStall(t *testing.T) {
	var s watchState
	limits := Limits{StallWindow: time.Second}
	start := time.Unix(0, 0)

	require.NoError(t, s.observe(start, usage{cpu: 0.01}, limits))
	// CPU advancing counts as progress.
	require.NoError(t, s.observe(start.Add(900*time.Millisecond), usage{cpu: 0.5}, limits))
	// Output growing counts as progress.
	require.NoError(t, s.observe(start.Add(1800*time.Millisecond), usage{cpu: 0.5, output: 10}, limits))
	require.NoError(t, s.observe(start.Add(2500*time.Millisecond), usage{cpu: 0.501, output: 10}, limits))
	assert.ErrorIs(t, s.observe(start.Add(2800*time.Millisecond), usage{cpu: 0.502, output: 10}, limits), errStalled)
}

func TestWatchStateStallDisabled(t *testing.T) {
	var s watchState
	start := time.Unix(0, 0)
	require.NoError(t, s.observe(start, usage{}, Limits{}))
	assert.NoError(t, s.observe(start.Add(time.Hour), usage{}, Limits{}))
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, DefaultLimits().Validate())

	bad := DefaultLimits()
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = DefaultLimits()
	bad.OutputLimit = 0
	assert.Error(t, bad.Validate())

	bad = DefaultLimits()
	bad.StallWindow = -time.Second
	assert.Error(t, bad.Validate())
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, "exit 101", (&ExecutionResult{Outcome: Panicked, ExitCode: 101}).ExitStatus())
	assert.Equal(t, "SIGSEGV", (&ExecutionResult{Outcome: Crashed, ExitCode: -1, Signal: "SIGSEGV"}).ExitStatus())
	assert.Equal(t, "-", (&ExecutionResult{Outcome: Completed, Skipped: true}).ExitStatus())
	assert.Equal(t, "-", (&ExecutionResult{Outcome: BuildFailed, ExitCode: -1}).ExitStatus())
}

func TestHasSanitizerReport(t *testing.T) {
	assert.True(t, HasSanitizerReport("==1==ERROR: LeakSanitizer: detected memory leaks"))
	assert.False(t, HasSanitizerReport(strings.Repeat("ok\n", 3)))
}
