package backend

import (
	"io"

	"github.com/pkg/errors"
)

var errConnectionBroken = errors.New("connection broken")

func (c *Client) readLoop(ch *channel) {
	defer ch.log.Debug("reader exited")

	for c.active.Load() {
		if c.online.Load() {
			if cn := c.usableConn(ch); cn != nil {
				msgs, err := c.read(cn)
				if err != nil {
					c.connectionError(ch, cn, err)
					continue
				}
				if len(msgs) > 0 {
					c.dispatch(ch, cn, msgs)
				}
				continue
			}
		}
		if !c.sleep(c.config.ReaderIdle) {
			return
		}
	}
}

// read returns records left over from the greeting, if any. Otherwise it
// blocks for at least one byte and feeds it, together with whatever
// else is already buffered, into the decoder.
func (c *Client) read(cn *conn) ([]interface{}, error) {
	if len(cn.pending) > 0 {
		msgs := cn.pending
		cn.pending = nil
		return msgs, nil
	}
	b, err := cn.rd.ReadByte()
	if err == io.EOF {
		cn.eof.Store(true)
		return nil, errConnectionBroken
	} else if err != nil {
		return nil, errors.Wrap(err, "cannot read from stream")
	}
	buf := []byte{b}
	if n := cn.rd.Buffered(); n > 0 {
		more, _ := cn.rd.Peek(n)
		buf = append(buf, more...)
		_, _ = cn.rd.Discard(n)
	}
	msgs, err := cn.dec.Feed(buf)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode stream")
	}
	return msgs, nil
}

// waitForFrames blocks until at least one complete record was decoded.
func (c *Client) waitForFrames(cn *conn) ([]interface{}, error) {
	for {
		msgs, err := c.read(cn)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
	}
}

// waitForGreeting consumes exactly one record. Records that arrived in the
// same read stay pending for the handshake or the reader.
func (c *Client) waitForGreeting(cn *conn) (interface{}, error) {
	msgs, err := c.waitForFrames(cn)
	if err != nil {
		return nil, err
	}
	cn.pending = msgs[1:]
	return msgs[0], nil
}
