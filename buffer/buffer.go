// Package buffer implements the growable byte window used by Socket for
// its receive and send queues.
package buffer

// Buffer is a contiguous byte region with an active [begin, end) window,
// a current capacity, and a fixed maximum capacity. It is not safe for
// concurrent use; callers (Socket) must serialize access on the loop
// thread.
type Buffer struct {
	buf    []byte
	begin  int
	end    int
	maxCap int
}

// defaultInitialCapacity is the size of the backing array a freshly
// constructed Buffer starts with.
const defaultInitialCapacity = 4096

// New creates an empty Buffer bounded by maxCapacity bytes. A maxCapacity
// of 0 means unbounded.
func New(maxCapacity int) *Buffer {
	initial := defaultInitialCapacity
	if maxCapacity > 0 && initial > maxCapacity {
		initial = maxCapacity
	}
	return &Buffer{
		buf:    make([]byte, initial),
		maxCap: maxCapacity,
	}
}

// Len returns the number of live bytes in the window.
func (b *Buffer) Len() int { return b.end - b.begin }

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// MaxCap returns the fixed maximum capacity (0 = unbounded).
func (b *Buffer) MaxCap() int { return b.maxCap }

// Full reports whether the live window has reached maxCap.
func (b *Buffer) Full() bool {
	return b.maxCap > 0 && b.Len() >= b.maxCap
}

// Bytes returns the live window. The slice is only valid until the next
// mutating call (Extend/Advance/Truncate/Clear).
func (b *Buffer) Bytes() []byte {
	return b.buf[b.begin:b.end]
}

// Extend grows the live window by appending data to the back, compacting
// or growing the backing array as needed. It returns an error if the
// resulting window would exceed maxCap.
func (b *Buffer) Extend(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	need := b.Len() + len(data)
	if b.maxCap > 0 && need > b.maxCap {
		return ErrWouldOverflow
	}
	b.ensure(need)
	b.end += copy(b.buf[b.end:b.end+len(data)], data)
	return nil
}

// Reserve returns a writable tail slice of at least n bytes, growing the
// backing array if necessary, without advancing end. The caller must
// call Commit(written) after filling some prefix of the returned slice.
func (b *Buffer) Reserve(n int) []byte {
	b.ensure(b.Len() + n)
	return b.buf[b.end:cap(b.buf)]
}

// Commit advances the back cursor by n bytes after a Reserve-based write.
func (b *Buffer) Commit(n int) {
	b.end += n
}

// Advance retracts the front cursor by n bytes (consumed data), clamped
// to the live window, and compacts if the window has drifted far enough
// forward.
func (b *Buffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.begin += n
	if b.begin == b.end {
		b.begin, b.end = 0, 0
		return
	}
	b.maybeCompact()
}

// Truncate retracts the back cursor by n bytes (drop unsent tail),
// clamped to the live window.
func (b *Buffer) Truncate(n int) {
	if n <= 0 {
		return
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.end -= n
	if b.begin == b.end {
		b.begin, b.end = 0, 0
	}
}

// Clear empties the window without releasing the backing array.
func (b *Buffer) Clear() {
	b.begin, b.end = 0, 0
}

// ensure grows the backing array (and compacts) so that at least need
// bytes are available starting at offset 0 of the live window.
func (b *Buffer) ensure(need int) {
	if need <= cap(b.buf)-b.begin {
		return
	}
	// Try compaction first; it may be enough on its own.
	if b.begin > 0 {
		b.compact()
		if need <= cap(b.buf) {
			return
		}
	}
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = defaultInitialCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	if b.maxCap > 0 && newCap > b.maxCap {
		newCap = b.maxCap
	}
	nb := make([]byte, newCap)
	copy(nb, b.buf[b.begin:b.end])
	b.end -= b.begin
	b.begin = 0
	b.buf = nb
}

// maybeCompact shifts the live window to offset 0 once the consumed
// prefix exceeds half the backing capacity, bounding long-lived
// fragmentation the way a ring buffer would.
func (b *Buffer) maybeCompact() {
	if b.begin > cap(b.buf)/2 {
		b.compact()
	}
}

func (b *Buffer) compact() {
	n := copy(b.buf, b.buf[b.begin:b.end])
	b.end = n
	b.begin = 0
}
