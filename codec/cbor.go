package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		// records are always keyed by strings
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

// CBOR is an alternate framing for peers that speak RFC 8949 instead of msgpack.
var CBOR Codec = cborCodec{}

func (cborCodec) Name() string { return NameCBOR }

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	return b, errors.Wrap(err, "cbor: cannot marshal")
}

func (cborCodec) NewDecoder() Decoder {
	d := &cborDecoder{}
	d.scan.header = cborHeader
	return d
}

type cborDecoder struct {
	feedBuffer
}

func (d *cborDecoder) Feed(p []byte) ([]interface{}, error) {
	values, err := d.feed(p, func(frame []byte) (v interface{}, err error) {
		err = cborDecMode.Unmarshal(frame, &v)
		return v, err
	})
	return values, errors.Wrap(err, "cbor: malformed frame")
}
