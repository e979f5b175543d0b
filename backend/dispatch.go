package backend

import (
	"github.com/mteguhsat/aetros-cli/codec"
)

type firedEvent struct {
	ev      Event
	payload interface{}
}

// dispatch applies the base protocol to a batch of records and then hands
// them to the handshake.
func (c *Client) dispatch(ch *channel, cn *conn, msgs []interface{}) {
	var events []firedEvent

	c.mtx.Lock()
	for _, msg := range msgs {
		r, ok := codec.AsRecord(msg)
		if !ok {
			continue
		}
		a, ok := r.String("a")
		if !ok {
			continue
		}
		if a == "stop" && !c.externalStopped {
			c.externalStopped = true
			events = append(events, firedEvent{EventStop, StopPayload{Force: r.Bool("force")}})
		}
	}
	c.mtx.Unlock()

	for _, e := range events {
		ch.log.WithField("payload", e.payload).Info("received stop")
		c.fire(e.ev, e.payload)
	}

	c.handshake.HandleMessages(c.session(ch, cn), msgs)
}
