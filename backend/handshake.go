package backend

// A Handshake layers an application protocol on top of the record stream.
type Handshake interface {
	// OnConnect is called exactly once per opened stream, after the peer
	// proved liveness and before the writer uses the channel. reconnect is
	// true if the channel was registered before. Returning false fails the
	// attempt and the channel is retried by the reconnect loop.
	OnConnect(s *Session, reconnect bool) (registered bool)
	// HandleMessages runs after the base dispatch for every batch of records.
	HandleMessages(s *Session, msgs []interface{})
}

// PassiveHandshake registers every stream right away and ignores records
// beyond the base protocol.
type PassiveHandshake struct{}

func (PassiveHandshake) OnConnect(s *Session, reconnect bool) bool {
	s.MarkRegistered()
	return true
}

func (PassiveHandshake) HandleMessages(s *Session, msgs []interface{}) {}

// Session is the Handshake's view of one channel's stream.
type Session struct {
	c  *Client
	ch *channel
	cn *conn
}

func (c *Client) session(ch *channel, cn *conn) *Session {
	return &Session{c: c, ch: ch, cn: cn}
}

func (s *Session) Channel() string { return s.ch.name }

// Primary reports whether this is the default channel, the only one that
// fires client lifecycle events.
func (s *Session) Primary() bool { return s.c.primary(s.ch) }

func (s *Session) Log() Logger { return s.ch.log }

// Transmit encodes v and writes it to the stream directly, bypassing the
// channel's queue.
func (s *Session) Transmit(v interface{}) error {
	return s.c.transmitNow(s.ch, s.cn, v)
}

// WaitForFrames blocks until the peer sent at least one complete record.
func (s *Session) WaitForFrames() ([]interface{}, error) {
	return s.c.waitForFrames(s.cn)
}

func (s *Session) MarkRegistered() {
	s.c.setState(s.ch, s.cn, StateRegistered)
}

// Dispatch runs msgs through the regular dispatch path.
func (s *Session) Dispatch(msgs []interface{}) {
	if len(msgs) == 0 {
		return
	}
	s.c.dispatch(s.ch, s.cn, msgs)
}

func (s *Session) Fire(ev Event, payload interface{}) {
	s.c.fire(ev, payload)
}

// Deactivate stops the client permanently. No further connection attempts
// are made.
func (s *Session) Deactivate() {
	s.ch.log.Warn("client deactivated")
	s.c.active.Store(false)
}

func (s *Session) Stopped() bool {
	return s.c.ExternallyStopped()
}
