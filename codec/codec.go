// Package codec implements the framing of the record stream exchanged with
// the coordination service.
//
// Frames carry no length header: each frame is one self-describing binary
// value. A Decoder is fed bytes as they arrive and yields every value that
// has become complete. Incomplete trailing bytes stay buffered until later
// feeds complete them.
package codec

import (
	"github.com/pkg/errors"
)

type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	NewDecoder() Decoder
}

// A Decoder is restartable: state persists between calls to Feed, so a
// value split across any number of feeds is decoded once its last byte
// arrives. A Decoder is not safe for concurrent use.
type Decoder interface {
	// Feed appends p to the internal buffer and returns all values that are
	// complete. An error is only returned for bytes that can never become a
	// valid value; the buffer is discarded in that case.
	Feed(p []byte) ([]interface{}, error)
	// Buffered returns the number of bytes held back as an incomplete value.
	Buffered() int
}

const (
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

func ByName(name string) (Codec, error) {
	switch name {
	case NameMsgpack, "":
		return Msgpack, nil
	case NameCBOR:
		return CBOR, nil
	default:
		return nil, errors.Errorf("unknown codec %q", name)
	}
}

// feedBuffer holds received bytes until they form complete values.
type feedBuffer struct {
	buf  []byte
	scan frameScanner
}

// feed appends p and decodes every complete value with decode. On error the
// buffer is discarded.
func (b *feedBuffer) feed(p []byte, decode func(frame []byte) (interface{}, error)) ([]interface{}, error) {
	b.buf = append(b.buf, p...)

	var values []interface{}
	off := 0
	for off < len(b.buf) {
		n, err := b.scan.next(b.buf[off:])
		if err == nil && n == 0 {
			break
		}
		var v interface{}
		if err == nil {
			v, err = decode(b.buf[off : off+n])
		}
		if err != nil {
			b.reset()
			return values, err
		}
		values = append(values, v)
		off += n
	}
	b.buf = append(b.buf[:0], b.buf[off:]...)
	return values, nil
}

func (b *feedBuffer) reset() {
	b.buf = b.buf[:0]
	b.scan.reset()
}

func (b *feedBuffer) Buffered() int {
	return len(b.buf)
}
