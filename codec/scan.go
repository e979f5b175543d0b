package codec

import (
	"github.com/pkg/errors"
)

// maxLength bounds string, binary and container lengths announced by a header.
const maxLength = 1 << 30

// header describes one encoded item as seen from its first bytes.
type header struct {
	// size of the header, plus the payload for scalars, strings and binaries
	size int
	// number of nested items that follow, -1 for indefinite length
	items int
	// brk closes the innermost indefinite-length container
	brk bool
}

// headerFunc parses the header at the start of b. ok is false if b is too
// short to contain the whole header.
type headerFunc func(b []byte) (h header, ok bool, err error)

// frameScanner finds the end of the first complete value in a growing buffer.
// It resumes where the previous call stopped, so every byte is looked at once.
type frameScanner struct {
	header headerFunc
	pos    int
	open   []int // items still expected by each open container
}

func (s *frameScanner) reset() {
	s.pos = 0
	s.open = s.open[:0]
}

// next returns the length of the first value in buf, or 0 if buf does not
// hold a complete value yet. buf must start with the same bytes on every
// call until next returned a length or an error.
func (s *frameScanner) next(buf []byte) (int, error) {
	for s.pos < len(buf) {
		h, ok, err := s.header(buf[s.pos:])
		if err != nil {
			return 0, err
		}
		if !ok || h.size > len(buf)-s.pos {
			return 0, nil
		}
		s.pos += h.size

		switch {
		case h.brk:
			if len(s.open) == 0 || s.open[len(s.open)-1] >= 0 {
				return 0, errors.New("unexpected break")
			}
			s.open = s.open[:len(s.open)-1]
		case h.items != 0:
			s.open = append(s.open, h.items)
			continue
		}

		// an item completed, which may complete its containers in turn
		for len(s.open) > 0 {
			top := len(s.open) - 1
			if s.open[top] < 0 {
				break
			}
			s.open[top]--
			if s.open[top] > 0 {
				break
			}
			s.open = s.open[:top]
		}
		if len(s.open) == 0 {
			n := s.pos
			s.pos = 0
			return n, nil
		}
	}
	return 0, nil
}

// beUint reads a big-endian unsigned integer of width bytes after the
// type byte of b.
func beUint(b []byte, width int) (v uint64, ok bool) {
	if len(b) < 1+width {
		return 0, false
	}
	for _, c := range b[1 : 1+width] {
		v = v<<8 | uint64(c)
	}
	return v, true
}

func checkLength(n uint64) (int, error) {
	if n > maxLength {
		return 0, errors.Errorf("announced length %d exceeds limit", n)
	}
	return int(n), nil
}

// total sizes of the msgpack types that have no length field
var msgpackFixedSizes = map[byte]int{
	0xc0: 1, 0xc2: 1, 0xc3: 1, // nil, false, true
	0xcc: 2, 0xd0: 2,
	0xcd: 3, 0xd1: 3,
	0xca: 5, 0xce: 5, 0xd2: 5,
	0xcb: 9, 0xcf: 9, 0xd3: 9,
	0xd4: 3, 0xd5: 4, 0xd6: 6, 0xd7: 10, 0xd8: 18, // fixext
}

// msgpackHeader follows the msgpack format specification.
func msgpackHeader(b []byte) (h header, ok bool, err error) {
	c := b[0]
	switch {
	case c <= 0x7f, c >= 0xe0: // fixint
		return header{size: 1}, true, nil
	case c <= 0x8f: // fixmap
		return header{size: 1, items: 2 * int(c&0x0f)}, true, nil
	case c <= 0x9f: // fixarray
		return header{size: 1, items: int(c & 0x0f)}, true, nil
	case c <= 0xbf: // fixstr
		return header{size: 1 + int(c&0x1f)}, true, nil
	}

	if size, isFixed := msgpackFixedSizes[c]; isFixed {
		return header{size: size}, true, nil
	}

	var width, extra int
	container, mult := false, 1
	switch c {
	case 0xc4, 0xd9: // bin8, str8
		width = 1
	case 0xc5, 0xda:
		width = 2
	case 0xc6, 0xdb:
		width = 4
	case 0xc7: // ext8 carries a type byte
		width, extra = 1, 1
	case 0xc8:
		width, extra = 2, 1
	case 0xc9:
		width, extra = 4, 1
	case 0xdc: // array16
		width, container = 2, true
	case 0xdd:
		width, container = 4, true
	case 0xde: // map16
		width, container, mult = 2, true, 2
	case 0xdf:
		width, container, mult = 4, true, 2
	default:
		return h, false, errors.Errorf("invalid msgpack code 0x%02x", c)
	}

	v, ok := beUint(b, width)
	if !ok {
		return h, false, nil
	}
	n, err := checkLength(v)
	if err != nil {
		return h, false, err
	}
	if container {
		return header{size: 1 + width, items: mult * n}, true, nil
	}
	return header{size: 1 + width + extra + n}, true, nil
}

// cborHeader follows RFC 8949 section 3.
func cborHeader(b []byte) (h header, ok bool, err error) {
	if b[0] == 0xff {
		return header{size: 1, brk: true}, true, nil
	}
	major, info := b[0]>>5, b[0]&0x1f

	var arg uint64
	size := 1
	switch {
	case info < 24:
		arg = uint64(info)
	case info <= 27:
		width := 1 << (info - 24)
		if arg, ok = beUint(b, width); !ok {
			return h, false, nil
		}
		size += width
	case info == 31:
		switch major {
		case 2, 3, 4, 5:
			return header{size: 1, items: -1}, true, nil
		}
		return h, false, errors.Errorf("indefinite length not allowed for major type %d", major)
	default:
		return h, false, errors.Errorf("reserved additional information %d", info)
	}

	switch major {
	case 0, 1, 7: // integers, simple values and floats
		return header{size: size}, true, nil
	case 6: // a tag wraps exactly one item
		return header{size: size, items: 1}, true, nil
	}
	n, err := checkLength(arg)
	if err != nil {
		return h, false, err
	}
	switch major {
	case 2, 3:
		return header{size: size + n}, true, nil
	case 4:
		return header{size: size, items: n}, true, nil
	default: // 5, map
		return header{size: size, items: 2 * n}, true, nil
	}
}
