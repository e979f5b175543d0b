package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mteguhsat/aetros-cli/codec"
)

type registration struct {
	Type    string `msgpack:"type" cbor:"type"`
	Model   string `msgpack:"model" cbor:"model"`
	Reconn  bool   `msgpack:"reconnect" cbor:"reconnect"`
	Version string `msgpack:"version" cbor:"version"`
}

var allCodecs = []codec.Codec{codec.Msgpack, codec.CBOR}

func TestByName(t *testing.T) {
	c, err := codec.ByName("")
	require.NoError(t, err)
	assert.Equal(t, codec.NameMsgpack, c.Name())

	c, err = codec.ByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, codec.NameCBOR, c.Name())

	_, err = codec.ByName("protobuf")
	assert.Error(t, err)
}

func TestFeedByteByByte(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			frame, err := c.Marshal(map[string]interface{}{"a": "stop", "n": 42})
			require.NoError(t, err)

			dec := c.NewDecoder()
			var got []interface{}
			for i := 0; i < len(frame); i++ {
				vs, err := dec.Feed(frame[i : i+1])
				require.NoError(t, err)
				if i < len(frame)-1 {
					assert.Empty(t, vs, "value completed early at byte %d", i)
				}
				got = append(got, vs...)
			}
			require.Len(t, got, 1)
			assert.Zero(t, dec.Buffered())

			r, ok := codec.AsRecord(got[0])
			require.True(t, ok)
			a, ok := r.String("a")
			assert.True(t, ok)
			assert.Equal(t, "stop", a)
		})
	}
}

func TestFeedMultipleFramesAndTail(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			var stream []byte
			for _, typ := range []string{"registered", "action", "end"} {
				b, err := c.Marshal(map[string]interface{}{"type": typ})
				require.NoError(t, err)
				stream = append(stream, b...)
			}
			dec := c.NewDecoder()
			cut := len(stream) - 2
			vs, err := dec.Feed(stream[:cut])
			require.NoError(t, err)
			require.Len(t, vs, 2)
			assert.NotZero(t, dec.Buffered())

			vs, err = dec.Feed(stream[cut:])
			require.NoError(t, err)
			require.Len(t, vs, 1)
			r, ok := codec.AsRecord(vs[0])
			require.True(t, ok)
			typ, _ := r.String("type")
			assert.Equal(t, "end", typ)
		})
	}
}

func TestMarshalStructTags(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			b, err := c.Marshal(registration{Type: "register_job_worker", Model: "owner/model", Reconn: true, Version: "1.0"})
			require.NoError(t, err)
			vs, err := c.NewDecoder().Feed(b)
			require.NoError(t, err)
			require.Len(t, vs, 1)
			r, ok := codec.AsRecord(vs[0])
			require.True(t, ok)
			m, _ := r.String("model")
			assert.Equal(t, "owner/model", m)
			assert.True(t, r.Bool("reconnect"))
			assert.False(t, r.Bool("missing"))
		})
	}
}

func TestMalformedInput(t *testing.T) {
	// 0xc1 is never used in msgpack, 0xff is an unexpected break in CBOR
	cases := map[string][]byte{
		codec.NameMsgpack: {0xc1},
		codec.NameCBOR:    {0xff},
	}
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			dec := c.NewDecoder()
			_, err := dec.Feed(cases[c.Name()])
			assert.Error(t, err)
			assert.Zero(t, dec.Buffered())

			// the decoder is usable again afterwards
			b, err := c.Marshal(map[string]interface{}{"type": "end"})
			require.NoError(t, err)
			vs, err := dec.Feed(b)
			require.NoError(t, err)
			assert.Len(t, vs, 1)
		})
	}
}

func TestAsRecord(t *testing.T) {
	r, ok := codec.AsRecord(map[interface{}]interface{}{"a": "b"})
	require.True(t, ok)
	s, ok := r.String("a")
	assert.True(t, ok)
	assert.Equal(t, "b", s)

	_, ok = codec.AsRecord(map[interface{}]interface{}{1: "b"})
	assert.False(t, ok)

	_, ok = codec.AsRecord("string")
	assert.False(t, ok)

	r = codec.Record{"n": int64(0), "m": uint64(2), "raw": []byte("x")}
	assert.False(t, r.Bool("n"))
	assert.True(t, r.Bool("m"))
	s, ok = r.String("raw")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	assert.True(t, r.Has("n"))
	assert.False(t, r.Has("z"))
}

func TestFeedLargeFrameInChunks(t *testing.T) {
	blob := bytes.Repeat([]byte{0xab}, 1<<20)
	for _, c := range allCodecs {
		t.Run(c.Name(), func(t *testing.T) {
			frame, err := c.Marshal(map[string]interface{}{
				"type":   "files",
				"blob":   blob,
				"nested": []interface{}{map[string]interface{}{}, []interface{}{1, "x", nil}, 3.5},
			})
			require.NoError(t, err)
			next, err := c.Marshal(map[string]interface{}{"type": "end"})
			require.NoError(t, err)
			stream := append(frame, next...)

			dec := c.NewDecoder()
			var got []interface{}
			const chunk = 4096
			for off := 0; off < len(stream); off += chunk {
				end := off + chunk
				if end > len(stream) {
					end = len(stream)
				}
				vs, err := dec.Feed(stream[off:end])
				require.NoError(t, err)
				if end < len(frame) {
					require.Empty(t, vs, "value completed early at offset %d", end)
				}
				got = append(got, vs...)
			}
			require.Len(t, got, 2)
			assert.Zero(t, dec.Buffered())

			r, ok := codec.AsRecord(got[0])
			require.True(t, ok)
			b, ok := r.String("blob")
			require.True(t, ok)
			assert.Equal(t, len(blob), len(b))
			r, ok = codec.AsRecord(got[1])
			require.True(t, ok)
			typ, _ := r.String("type")
			assert.Equal(t, "end", typ)
		})
	}
}

func TestFeedCBORIndefiniteLength(t *testing.T) {
	// {_ "a": [_ 1, 2]} followed by 7
	stream := []byte{0xbf, 0x61, 'a', 0x9f, 0x01, 0x02, 0xff, 0xff, 0x07}
	dec := codec.CBOR.NewDecoder()
	var got []interface{}
	for i := range stream {
		vs, err := dec.Feed(stream[i : i+1])
		require.NoError(t, err)
		if i < 7 {
			require.Empty(t, vs)
		}
		got = append(got, vs...)
	}
	require.Len(t, got, 2)
	r, ok := codec.AsRecord(got[0])
	require.True(t, ok)
	assert.Len(t, r["a"], 2)
	assert.EqualValues(t, 7, got[1])
}

func TestFeedRejectsOversizedLength(t *testing.T) {
	// str32 announcing 4 GiB
	_, err := codec.Msgpack.NewDecoder().Feed([]byte{0xdb, 0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}
