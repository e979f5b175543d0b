package backend

import (
	"bufio"
	"sync/atomic"
	"time"

	"github.com/mteguhsat/aetros-cli/codec"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/util/bytecounter"
)

type channel struct {
	name string
	log  Logger

	// protected by Client.mtx
	state            State
	wasConnectedOnce bool
	conn             *conn
	queue            []*message
}

// conn is one opened transport stream of a channel.
// A channel gets a new conn on every connect. Errors reported against a conn
// that is no longer the channel's current one are stale and ignored.
type conn struct {
	stream transport.Stream
	rd     *bufio.Reader
	dec    codec.Decoder
	eof    atomic.Bool

	// records decoded together with the greeting, handed out by the next read.
	// Only touched by whoever owns the stream: connect, then the reader.
	pending []interface{}
}

func (c *Client) newConn(ch *channel, stream transport.Stream) *conn {
	received := c.metrics.bytesReceived.WithLabelValues(ch.name)
	counted := bytecounter.NewReader(stream, func(n int) {
		received.Add(float64(n))
	})
	return &conn{
		stream: stream,
		rd:     bufio.NewReader(counted),
		dec:    c.config.Codec.NewDecoder(),
	}
}

func (c *Client) primary(ch *channel) bool { return ch.name == "" }

// usableConn returns the channel's stream if the channel is registered.
func (c *Client) usableConn(ch *channel) *conn {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if ch.state != StateRegistered {
		return nil
	}
	return ch.conn
}

func (c *Client) connected(ch *channel) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return ch.state.connected()
}

func (c *Client) setState(ch *channel, cn *conn, s State) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if ch.conn != cn || ch.state == StateClosed {
		return false
	}
	ch.state = s
	return true
}

// closeConnLocked drops the channel's current stream.
// Must be called with Client.mtx held.
func (c *Client) closeConnLocked(ch *channel) {
	if ch.conn != nil {
		ch.log.Debug("close stream")
		if err := ch.conn.stream.Close(); err != nil {
			ch.log.WithError(err).Debug("error closing stream")
		}
		ch.conn = nil
	}
	if ch.state != StateClosed {
		ch.state = StateDisconnected
	}
}

// sleep returns false if the client was closed while sleeping.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closed:
		return false
	}
}
