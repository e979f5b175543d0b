package backend

import (
	"github.com/pkg/errors"

	"github.com/mteguhsat/aetros-cli/transport"
)

// connect opens a new stream for ch, waits for the peer's first records and
// runs the handshake. Only one connect attempt runs at a time per client.
func (c *Client) connect(ch *channel) bool {
	if tries := c.connectionTries.Load(); tries > int64(c.config.BackoffAfterTries) {
		ch.log.WithField("tries", tries).Debug("backing off before connect attempt")
		if !c.sleep(c.config.BackoffDelay) {
			return false
		}
	}

	if !c.inConnecting.CompareAndSwap(false, true) {
		ch.log.Debug("another connect attempt is in progress")
		return false
	}
	defer c.inConnecting.Store(false)

	if !c.online.Load() || !c.active.Load() {
		return false
	}

	c.mtx.Lock()
	switch {
	case ch.state == StateClosed:
		c.mtx.Unlock()
		return false
	case ch.state.connected():
		c.mtx.Unlock()
		return true
	}
	c.closeConnLocked(ch)
	ch.state = StateConnecting
	reconnect := ch.wasConnectedOnce
	c.mtx.Unlock()

	ch.log.Debug("open stream")
	stream, err := c.provider.Open(c.ctx, ch.name)
	if err != nil {
		c.connectFailed(ch, nil, errors.Wrap(err, "cannot open stream"), "")
		return false
	}
	cn := c.newConn(ch, stream)

	c.mtx.Lock()
	if ch.state != StateConnecting {
		c.mtx.Unlock()
		ch.log.Debug("channel closed while opening stream")
		_ = stream.Close()
		return false
	}
	ch.conn = cn
	c.mtx.Unlock()

	// the greeting only proves that the stream is alive
	if _, err := c.waitForGreeting(cn); err != nil {
		c.connectFailed(ch, cn, err, stream.Stderr())
		return false
	}
	if !c.setState(ch, cn, StateConnectedUnregistered) {
		return false
	}

	if !c.handshake.OnConnect(c.session(ch, cn), reconnect) {
		c.connectFailed(ch, cn, errors.New("registration failed"), "")
		return false
	}

	c.mtx.Lock()
	ok := ch.conn == cn && ch.state != StateClosed
	if ok {
		ch.state = StateRegistered
		ch.wasConnectedOnce = true
	}
	c.mtx.Unlock()
	if ok {
		ch.log.WithField("reconnect", reconnect).Info("channel connected")
	}
	return ok
}

func (c *Client) connectFailed(ch *channel, cn *conn, err error, stderr string) {
	tries := c.connectionTries.Add(1)
	c.metrics.connectionTries.Inc()

	c.mtx.Lock()
	if cn == nil || ch.conn == cn {
		c.closeConnLocked(ch)
	}
	wasConnectedOnce := ch.wasConnectedOnce
	c.mtx.Unlock()

	ch.log.WithError(err).WithField("tries", tries).Debug("connect attempt failed")

	if !wasConnectedOnce && c.config.GoOfflineOnFirstFailedAttempt {
		c.goOffline()
	}

	if stderr != "" && !transport.IsConnectionRefused(stderr) && !transport.IsPermissionDenied(nil, stderr) {
		ch.log.Error(stderr)
	}

	if transport.IsPermissionDenied(err, stderr) {
		l := ch.log.WithError(err)
		const msg = "access denied: make sure the SSH public key of this machine is registered with your account"
		if tries < 3 {
			l.Warn(msg)
		} else {
			l.Error(msg)
		}
		c.Close()
		c.config.OnFatal(err)
		return
	}

	c.connectionError(ch, nil, errors.Wrap(err, "connection error while connecting"))
}

// connectionError is the single sink for transport and protocol errors.
// A nil cn refers to whatever stream the channel currently has.
func (c *Client) connectionError(ch *channel, cn *conn, err error) {
	if !c.active.Load() {
		return
	}
	if c.stale(ch, cn) {
		ch.log.WithError(err).Debug("ignoring error of replaced stream")
		return
	}

	c.sleep(c.config.ErrorGrace)

	c.mtx.Lock()
	if cn != nil && ch.conn != cn {
		c.mtx.Unlock()
		return
	}
	c.closeConnLocked(ch)
	c.mtx.Unlock()

	if c.expectClose.Load() {
		ch.log.WithError(err).Debug("ignoring error during expected close")
		return
	}

	l := ch.log.WithError(err)
	l.Error("connection error")
	if transport.IsNoAuthMethods(err) {
		l.Error("make sure this machine was authenticated with the service")
	}

	c.connectionErrors.Add(1)
	c.metrics.connectionErrors.WithLabelValues(ch.name).Inc()
	c.fire(EventDisconnect, nil)
}

func (c *Client) stale(ch *channel, cn *conn) bool {
	if cn == nil {
		return false
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return ch.conn != cn
}
