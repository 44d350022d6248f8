// Package tailbuf provides bounded capture of collaborator output: a writer
// that retains only the most recent bytes, trimming at line boundaries so
// diagnostic logs stay readable.
package tailbuf

import (
	"bytes"
	"strings"
	"sync"
)

// Buffer is an io.Writer that keeps at most a fixed number of the most
// recently written bytes. Writes never fail.
type Buffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

// New returns a Buffer retaining at most max bytes. A non-positive max
// falls back to 8 KiB.
func New(max int) *Buffer {
	if max <= 0 {
		max = 8 * 1024
	}
	return &Buffer{max: max}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.truncated = true
		drop := len(b.buf) - b.max
		// Prefer dropping whole lines over cutting mid-line.
		if nl := bytes.IndexByte(b.buf[drop:], '\n'); nl >= 0 && drop+nl+1 < len(b.buf) {
			drop += nl + 1
		}
		b.buf = append(b.buf[:0], b.buf[drop:]...)
	}
	return len(p), nil
}

// String returns the retained tail of everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Truncated reports whether older output has been dropped.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// LastLines returns the last n lines of s, preserving the trailing newline
// state of the input. n <= 0 returns "".
func LastLines(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := strings.Join(lines, "\n")
	if strings.HasSuffix(s, "\n") {
		out += "\n"
	}
	return out
}
