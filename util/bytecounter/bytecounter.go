// Package bytecounter wraps readers and writers to count transferred bytes.
package bytecounter

import (
	"io"
	"sync/atomic"
)

type Reader struct {
	reader io.Reader
	cb     func(n int)

	// set atomically because it may be read by multiple threads
	bytes int64
}

// NewReader counts bytes read from r. If cb is not nil, it is called
// synchronously after each Read that returned n > 0.
func NewReader(r io.Reader, cb func(n int)) *Reader {
	return &Reader{reader: r, cb: cb}
}

func (b *Reader) Read(p []byte) (n int, err error) {
	n, err = b.reader.Read(p)
	if n > 0 {
		atomic.AddInt64(&b.bytes, int64(n))
		if b.cb != nil {
			b.cb(n)
		}
	}
	return n, err
}

func (b *Reader) Count() int64 {
	return atomic.LoadInt64(&b.bytes)
}

type Writer struct {
	writer io.Writer
	cb     func(n int)

	bytes int64
}

func NewWriter(w io.Writer, cb func(n int)) *Writer {
	return &Writer{writer: w, cb: cb}
}

func (b *Writer) Write(p []byte) (n int, err error) {
	n, err = b.writer.Write(p)
	if n > 0 {
		atomic.AddInt64(&b.bytes, int64(n))
		if b.cb != nil {
			b.cb(n)
		}
	}
	return n, err
}

func (b *Writer) Count() int64 {
	return atomic.LoadInt64(&b.bytes)
}
