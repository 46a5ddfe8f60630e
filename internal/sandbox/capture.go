package sandbox

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// boundedBuffer keeps the head and the tail of what is written to it, each
// half of limit, and discards the middle. The tail is where a case's panic
// message or sanitizer report lands after a burst of output. Write always
// reports success so the child never blocks on a full pipe once the cap is
// hit.
type boundedBuffer struct {
	mu   sync.Mutex
	head []byte
	tail ring

	headLimit int

	// total counts every byte written, kept or not. The watchdog reads it to
	// tell whether the process is making progress.
	total atomic.Int64
}

func newBoundedBuffer(limit int) *boundedBuffer {
	tailLimit := limit / 2
	headLimit := limit - tailLimit
	initial := min(headLimit, 4096)
	return &boundedBuffer{
		head:      make([]byte, 0, initial),
		headLimit: headLimit,
		tail:      ring{size: tailLimit},
	}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.total.Add(int64(n))

	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.headLimit - len(b.head); room > 0 {
		k := min(room, len(p))
		b.head = append(b.head, p[:k]...)
		p = p[k:]
	}
	b.tail.write(p)
	return n, nil
}

// Written returns the number of bytes written so far, including discarded ones.
func (b *boundedBuffer) Written() int64 {
	return b.total.Load()
}

// Snapshot returns the kept output and whether anything was dropped. When
// bytes were dropped, a marker line separates the head from the tail.
func (b *boundedBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := b.tail.bytes()
	omitted := b.total.Load() - int64(len(b.head)) - int64(len(tail))
	if omitted <= 0 {
		return string(b.head) + string(tail), false
	}
	return fmt.Sprintf("%s\n[... %d bytes omitted ...]\n%s", b.head, omitted, tail), true
}

// ring holds the last size bytes written to it.
type ring struct {
	buf  []byte
	size int
	pos  int
	full bool
}

func (r *ring) write(p []byte) {
	if r.size == 0 || len(p) == 0 {
		return
	}
	if r.buf == nil {
		r.buf = make([]byte, r.size)
	}
	if len(p) >= r.size {
		copy(r.buf, p[len(p)-r.size:])
		r.pos = 0
		r.full = true
		return
	}
	k := copy(r.buf[r.pos:], p)
	if k < len(p) {
		copy(r.buf, p[k:])
		r.full = true
	} else if r.pos+k == r.size {
		r.full = true
	}
	r.pos = (r.pos + len(p)) % r.size
}

func (r *ring) bytes() []byte {
	if !r.full {
		return append([]byte(nil), r.buf[:r.pos]...)
	}
	out := make([]byte, 0, r.size)
	out = append(out, r.buf[r.pos:]...)
	return append(out, r.buf[:r.pos]...)
}
