package backend

import (
	"github.com/pkg/errors"
)

// writeLoop returns nil once the client stopped or a drain emptied the queue.
// It returns an error if it gave up on queued messages.
func (c *Client) writeLoop(ch *channel) error {
	defer func() {
		ch.log.WithField("queued", c.queueLen(ch)).Debug("writer exited")
	}()

	for c.active.Load() {
		if c.stopOnEmptyQueue.Load() && c.queueEmpty(ch) {
			return nil
		}
		if c.online.Load() {
			if cn := c.usableConn(ch); cn != nil {
				c.writeCycle(ch, cn)
				if c.stopOnEmptyQueue.Load() && c.queueEmpty(ch) {
					return nil
				}
			}
			if c.active.Load() && !c.connected(ch) && !c.expectClose.Load() {
				if !c.connect(ch) {
					if !c.sleep(c.config.ReconnectDelay) {
						return nil
					}
				}
			}
			if c.stopOnEmptyQueue.Load() && c.expectClose.Load() && !c.connected(ch) {
				queued := c.queueLen(ch)
				ch.log.WithField("queued", queued).Warn("stream closed during shutdown, discarding queued messages")
				return errors.Errorf("channel %q: stream closed during shutdown, %d queued messages discarded", ch.name, queued)
			}
		}
		if !c.sleep(c.config.WriterIdle) {
			return nil
		}
	}
	return nil
}

// writeCycle transmits queued messages in order until the queue snapshot is
// exhausted, the per-cycle byte cap is exceeded or the stream fails.
func (c *Client) writeCycle(ch *channel, cn *conn) {
	snapshot := c.snapshotQueue(ch)

	for _, m := range snapshot {
		if m.sending && !m.sent {
			// interrupted by a previous failure, retry from the start
			m.sending = false
		}
	}

	var (
		sentSize int
		sent     []*message
	)
	for _, m := range snapshot {
		if c.usableConn(ch) != cn {
			break
		}
		if m.sending || m.sent {
			continue
		}
		if err := c.transmit(ch, cn, m); err != nil {
			c.connectionError(ch, cn, err)
			break
		}
		c.metrics.messagesSent.WithLabelValues(ch.name).Inc()
		sent = append(sent, m)
		sentSize += len(m.payload)
		if sentSize > c.config.MaxBytesPerCycle {
			break
		}
	}

	c.removeSent(ch, sent)
	if len(sent) > 0 {
		ch.log.WithField("sent", len(sent)).WithField("bytes", sentSize).Debug("write cycle done")
	}
}

func (c *Client) queueLen(ch *channel) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(ch.queue)
}
