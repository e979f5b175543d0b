package backend

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// transmit writes the message's payload to cn in chunks.
// The message is marked sent only after every chunk was written.
func (c *Client) transmit(ch *channel, cn *conn, m *message) error {
	m.sending = true

	bytesSent := c.metrics.bytesSent.WithLabelValues(ch.name)
	speeds := make([]float64, 0, len(m.payload)/c.config.ChunkSize+1)
	for off := 0; off < len(m.payload); off += c.config.ChunkSize {
		end := off + c.config.ChunkSize
		if end > len(m.payload) {
			end = len(m.payload)
		}
		start := time.Now()
		n, err := cn.stream.Write(m.payload[off:end])
		bytesSent.Add(float64(n))
		if err != nil {
			return errors.Wrapf(err, "cannot write message %d (%d of %d bytes written)", m.id, off+n, len(m.payload))
		}
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			speeds = append(speeds, float64(n)/elapsed)
		}
	}
	m.sent = true

	if mean, err := stats.Mean(speeds); err == nil {
		c.metrics.writeThroughput.Observe(mean)
		ch.log.
			WithField("id", m.id).
			WithField("bytes", len(m.payload)).
			WithField("kib_per_sec", int64(mean/1024)).
			Debug("message sent")
	}
	return nil
}

// transmitNow encodes v and writes it directly, bypassing the queue.
func (c *Client) transmitNow(ch *channel, cn *conn, v interface{}) error {
	m, err := c.newMessage(v)
	if err != nil {
		return err
	}
	if err := c.transmit(ch, cn, m); err != nil {
		return err
	}
	c.metrics.messagesSent.WithLabelValues(ch.name).Inc()
	return nil
}
