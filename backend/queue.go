package backend

import (
	"github.com/pkg/errors"
)

type message struct {
	id      uint64
	payload []byte
	// only touched by the writer goroutine of the owning channel
	sending bool
	sent    bool
}

// Send enqueues v for transmission on the named channel.
// It never performs I/O. Send is a no-op if the client is inactive, offline
// or draining its queues.
func (c *Client) Send(channel string, v interface{}) error {
	if !c.active.Load() || !c.online.Load() {
		return nil
	}
	if c.stopOnEmptyQueue.Load() {
		return nil
	}
	ch, err := c.channel(channel)
	if err != nil {
		return err
	}
	m, err := c.newMessage(v)
	if err != nil {
		return err
	}
	c.enqueue(ch, m)
	return nil
}

func (c *Client) newMessage(v interface{}) (*message, error) {
	payload, err := c.config.Codec.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode message")
	}
	return &message{
		id:      c.nextMessageID.Add(1),
		payload: payload,
	}, nil
}

func (c *Client) enqueue(ch *channel, m *message) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if ch.state == StateClosed {
		return
	}
	ch.queue = append(ch.queue, m)
	c.metrics.queueLength.WithLabelValues(ch.name).Set(float64(len(ch.queue)))
}

// removeSent removes sent messages from the channel's live queue, which may
// have grown since the writer took its snapshot.
func (c *Client) removeSent(ch *channel, sent []*message) {
	if len(sent) == 0 {
		return
	}
	done := make(map[*message]bool, len(sent))
	for _, m := range sent {
		done[m] = true
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	kept := ch.queue[:0]
	for _, m := range ch.queue {
		if !done[m] {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(ch.queue); i++ {
		ch.queue[i] = nil
	}
	ch.queue = kept
	c.metrics.queueLength.WithLabelValues(ch.name).Set(float64(len(ch.queue)))
}

func (c *Client) snapshotQueue(ch *channel) []*message {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]*message(nil), ch.queue...)
}

func (c *Client) queueEmpty(ch *channel) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(ch.queue) == 0
}
