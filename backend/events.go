package backend

import (
	"github.com/mteguhsat/aetros-cli/codec"
)

type Event string

const (
	EventOffline            Event = "offline"
	EventDisconnect         Event = "disconnect"
	EventClose              Event = "close"
	EventRegistration       Event = "registration"
	EventRegistrationFailed Event = "registration_failed"
	EventAborted            Event = "aborted"
	EventStop               Event = "stop"
	EventParameterChanged   Event = "parameter_changed"
	EventAction             Event = "action"
)

// An EventListener receives the client's lifecycle events.
// Fire is called from the client's background goroutines and must not block
// for long. It is never called with the client's lock held, so it may call
// back into the client.
type EventListener interface {
	Fire(ev Event, payload interface{})
}

type EventListenerFunc func(ev Event, payload interface{})

func (f EventListenerFunc) Fire(ev Event, payload interface{}) { f(ev, payload) }

type StopPayload struct {
	Force bool
}

type RegistrationFailedPayload struct {
	Reason string
}

type ParameterChangedPayload struct {
	Values interface{}
}

// ActionPayload is the record received from the peer, unmodified.
type ActionPayload = codec.Record

func (c *Client) fire(ev Event, payload interface{}) {
	c.log.WithField("event", string(ev)).Debug("fire event")
	if c.listener == nil {
		return
	}
	c.listener.Fire(ev, payload)
}
