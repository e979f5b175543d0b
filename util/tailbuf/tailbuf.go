// Package tailbuf implements an io.Writer that retains only the most recent
// bytes written to it. It is used to capture the stderr of transport
// processes without unbounded growth.
package tailbuf

import "sync"

const DefaultMax = 32 << 10

type Buffer struct {
	mtx       sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func New(max int) *Buffer {
	if max <= 0 {
		panic("tailbuf: max must be positive")
	}
	return &Buffer{max: max}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	n := len(p)
	if n >= b.max {
		b.truncated = b.truncated || n > b.max || len(b.buf) > 0
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// String returns the retained bytes, prefixed with "(...)" if older
// output was discarded.
func (b *Buffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.truncated {
		return "(...)" + string(b.buf)
	}
	return string(b.buf)
}

func (b *Buffer) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.buf)
}
