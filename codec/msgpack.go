package codec

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type msgpackCodec struct{}

// Msgpack is the wire format spoken by the coordination service.
var Msgpack Codec = msgpackCodec{}

func (msgpackCodec) Name() string { return NameMsgpack }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	return b, errors.Wrap(err, "msgpack: cannot marshal")
}

func (msgpackCodec) NewDecoder() Decoder {
	d := &msgpackDecoder{rd: bytes.NewReader(nil)}
	d.scan.header = msgpackHeader
	d.dec = msgpack.NewDecoder(d.rd)
	return d
}

type msgpackDecoder struct {
	feedBuffer
	rd  *bytes.Reader
	dec *msgpack.Decoder
}

func (d *msgpackDecoder) Feed(p []byte) ([]interface{}, error) {
	values, err := d.feed(p, func(frame []byte) (interface{}, error) {
		d.rd.Reset(frame)
		// Reset clears decoder flags, so they are applied for every frame.
		d.dec.Reset(d.rd)
		d.dec.UseLooseInterfaceDecoding(true)
		return d.dec.DecodeInterface()
	})
	return values, errors.Wrap(err, "msgpack: malformed frame")
}
