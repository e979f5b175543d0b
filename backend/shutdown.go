package backend

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var endRecord = map[string]interface{}{"type": "end"}

// DrainAndStop stops accepting new messages and waits until every writer
// transmitted its queue and exited. Streams stay open. An error is returned
// if a writer had to discard queued messages.
func (c *Client) DrainAndStop(ctx context.Context) error {
	if !c.active.Load() || !c.online.Load() {
		return nil
	}
	c.stopOnEmptyQueue.Store(true)
	c.log.Debug("draining queues")
	select {
	case <-c.writersDone:
		return c.writersErr
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain interrupted")
	}
}

func (c *Client) writersExited() bool {
	select {
	case <-c.writersDone:
		return true
	default:
		return false
	}
}

// End sends an end marker behind the queued messages of every channel and
// waits until the peer closed every stream. The client is offline afterwards.
// Errors from the streams are expected from now on and not reported.
func (c *Client) End(ctx context.Context) error {
	c.expectClose.Store(true)
	if !c.active.Load() || !c.online.Load() {
		return nil
	}

	for _, name := range c.channelOrder {
		ch := c.channels[name]
		m, err := c.newMessage(endRecord)
		if err != nil {
			return err
		}
		if !c.writersExited() {
			c.enqueue(ch, m)
			continue
		}
		// an earlier drain stopped the writers, their queues are empty
		if cn := c.usableConn(ch); cn != nil {
			if err := c.transmit(ch, cn, m); err != nil {
				c.connectionError(ch, cn, err)
			}
		}
	}

	drainErr := c.DrainAndStop(ctx)
	if ctx.Err() != nil {
		return drainErr
	}
	if err := c.waitForClose(ctx); err != nil {
		return err
	}
	return drainErr
}

// waitForClose polls until the peer closed every channel's stream.
func (c *Client) waitForClose(ctx context.Context) error {
	if !c.active.Load() || !c.online.Load() {
		return nil
	}
	defer func() {
		c.active.Store(false)
		c.online.Store(false)
	}()

	poll := time.NewTicker(c.config.ClosePoll)
	defer poll.Stop()
	lastWarn := time.Now()
	for {
		waiting := c.channelsAwaitingClose()
		if len(waiting) == 0 {
			return nil
		}
		if time.Since(lastWarn) >= c.config.CloseWaitWarnInterval {
			lastWarn = time.Now()
			for _, ch := range waiting {
				ch.log.Warn("still waiting for the server to close the connection")
			}
		}
		select {
		case <-poll.C:
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for close interrupted")
		}
	}
}

func (c *Client) channelsAwaitingClose() []*channel {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var waiting []*channel
	for _, name := range c.channelOrder {
		ch := c.channels[name]
		if ch.conn != nil && !ch.conn.eof.Load() {
			waiting = append(waiting, ch)
		}
	}
	return waiting
}

// Close stops the client immediately. Queued messages are discarded.
// The close event fires if the client was online. Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.log.Debug("closing client")
		c.active.Store(false)
		close(c.closed)
		if c.cancel != nil {
			c.cancel()
		}

		c.mtx.Lock()
		for _, name := range c.channelOrder {
			ch := c.channels[name]
			c.closeConnLocked(ch)
			ch.state = StateClosed
			ch.queue = nil
			c.metrics.queueLength.WithLabelValues(ch.name).Set(0)
		}
		c.mtx.Unlock()

		c.stopSignals()

		if c.online.Swap(false) {
			c.fire(EventClose, nil)
		}
	})
}

// Wait blocks until the reader and writer goroutines of a started client
// exited. They exit after Close, or after End returned.
func (c *Client) Wait() {
	if !c.started.Load() {
		return
	}
	<-c.writersDone
	c.readers.Wait()
}
