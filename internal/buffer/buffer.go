package buffer

import (
	"strings"
	"sync"
)

// DefaultCapacity is the per-session capture size used when none is configured.
const DefaultCapacity = 256 * 1024

// Buffer is a fixed-capacity circular byte store for terminal output.
// New writes overwrite the oldest retained data once full; reads always
// return retained bytes in chronological order.
type Buffer struct {
	data    []byte
	cursor  int
	wrapped bool
	total   int64
	mu      sync.RWMutex
}

// New creates a buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data: make([]byte, capacity),
	}
}

// Append writes p into the buffer. It never blocks and never grows the
// backing store. When len(p) meets or exceeds capacity, only the trailing
// capacity bytes of p are retained and everything older is discarded.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))

	// Oversized append: most recent wins.
	if len(p) >= len(b.data) {
		copy(b.data, p[len(p)-len(b.data):])
		b.cursor = 0
		b.wrapped = true
		return
	}

	n := copy(b.data[b.cursor:], p)
	if n < len(p) {
		copy(b.data, p[n:])
		b.wrapped = true
	}
	b.cursor = (b.cursor + len(p)) % len(b.data)
	if b.cursor == 0 && n == len(p) {
		b.wrapped = true
	}
}

// History returns all retained bytes in write order. Before the first
// wraparound this is a straight slice; after wraparound the result is
// composed as [oldest-segment][newest-segment].
func (b *Buffer) History() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.wrapped {
		out := make([]byte, b.cursor)
		copy(out, b.data[:b.cursor])
		return out
	}

	out := make([]byte, len(b.data))
	n := copy(out, b.data[b.cursor:])
	copy(out[n:], b.data[:b.cursor])
	return out
}

// RecentLines returns the last n lines of retained output as text.
// A trailing newline does not count as an extra empty line.
func (b *Buffer) RecentLines(n int) string {
	if n <= 0 {
		return ""
	}

	text := string(b.History())
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// TotalWritten returns the monotonic count of bytes ever appended,
// including bytes that have since been overwritten.
func (b *Buffer) TotalWritten() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Len returns the number of currently retained bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.wrapped {
		return len(b.data)
	}
	return b.cursor
}

// Capacity returns the fixed size of the backing store.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Clear zeroes the store and resets cursors and counters. Used on session
// restart so stale text is never classified.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.data {
		b.data[i] = 0
	}
	b.cursor = 0
	b.wrapped = false
	b.total = 0
}
