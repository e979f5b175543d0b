package backend

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/mteguhsat/aetros-cli/codec"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/util/socketpair"
)

const testTimeout = 5 * time.Second

var greeting = map[string]interface{}{"a": "hello"}

func testConfig(t *testing.T, channels ...string) Config {
	c := DefaultConfig()
	if len(channels) > 0 {
		c.Channels = channels
	}
	c.ReconnectDelay = 10 * time.Millisecond
	c.BackoffDelay = 10 * time.Millisecond
	c.WriterIdle = time.Millisecond
	c.ReaderIdle = time.Millisecond
	c.ClosePoll = 5 * time.Millisecond
	c.ErrorGrace = time.Millisecond
	c.CloseWaitWarnInterval = 50 * time.Millisecond
	c.InterceptInterrupt = false
	c.OnFatal = func(err error) {
		t.Errorf("unexpected fatal error: %s", err)
	}
	return c
}

type recordedEvent struct {
	ev      Event
	payload interface{}
}

type eventRecorder struct {
	mtx    sync.Mutex
	events []recordedEvent
	// every log entry of the client
	log *logger.RecordingOutlet
}

func (r *eventRecorder) Fire(ev Event, payload interface{}) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, recordedEvent{ev, payload})
}

func (r *eventRecorder) count(ev Event) int {
	return len(r.payloads(ev))
}

func (r *eventRecorder) payloads(ev Event) []interface{} {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var ps []interface{}
	for _, e := range r.events {
		if e.ev == ev {
			ps = append(ps, e.payload)
		}
	}
	return ps
}

// fakePeer is the service side of one stream.
type fakePeer struct {
	channel string
	conn    net.Conn
	codec   codec.Codec
	recv    chan codec.Record
	bytes   atomic.Int64
}

func newFakePeer(channel string, conn net.Conn, cod codec.Codec) *fakePeer {
	p := &fakePeer{
		channel: channel,
		conn:    conn,
		codec:   cod,
		recv:    make(chan codec.Record, 1024),
	}
	go p.run()
	return p
}

func (p *fakePeer) run() {
	defer close(p.recv)
	dec := p.codec.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			p.bytes.Add(int64(n))
			msgs, derr := dec.Feed(buf[:n])
			if derr != nil {
				return
			}
			for _, m := range msgs {
				if r, ok := codec.AsRecord(m); ok {
					p.recv <- r
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *fakePeer) send(t *testing.T, v interface{}) {
	b, err := p.codec.Marshal(v)
	require.NoError(t, err)
	_, err = p.conn.Write(b)
	require.NoError(t, err)
}

func (p *fakePeer) next(t *testing.T) codec.Record {
	select {
	case r, ok := <-p.recv:
		require.True(t, ok, "stream closed")
		return r
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for record on channel %q", p.channel)
		return nil
	}
}

func (p *fakePeer) close() { p.conn.Close() }

type fakeStream struct {
	net.Conn
	stderr     string
	mtx        sync.Mutex
	writesLeft int
	onClose    func()
	closeOnce  sync.Once
}

func (s *fakeStream) Write(b []byte) (int, error) {
	s.mtx.Lock()
	if s.writesLeft == 0 {
		s.mtx.Unlock()
		s.Conn.Close()
		return 0, errors.New("write: broken pipe")
	}
	if s.writesLeft > 0 {
		s.writesLeft--
	}
	s.mtx.Unlock()
	return s.Conn.Write(b)
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(s.onClose)
	return s.Conn.Close()
}

func (s *fakeStream) Stderr() string { return s.stderr }

type fakeProvider struct {
	codec codec.Codec
	greet bool
	// records written in the same write as the greeting
	greetWith []interface{}

	// the n-th Open fails with the returned error if non-nil
	openErr func(n int) error
	// the n-th stream fails after this many writes, unless negative
	writeLimit func(n int) int
	// if non-nil, the n-th stream is closed right away with this stderr
	deadStream func(n int) (stderr string, dead bool)
	gate       chan struct{}

	mtx      sync.Mutex
	opens    int
	openedAt []time.Time
	open     map[string]int
	maxOpen map[string]int
	peers   chan *fakePeer
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		codec:   codec.Msgpack,
		greet:   true,
		open:    make(map[string]int),
		maxOpen: make(map[string]int),
		peers:   make(chan *fakePeer, 64),
	}
}

func (p *fakeProvider) Open(ctx context.Context, channel string) (transport.Stream, error) {
	p.mtx.Lock()
	n := p.opens
	p.opens++
	p.openedAt = append(p.openedAt, time.Now())
	p.mtx.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.openErr != nil {
		if err := p.openErr(n); err != nil {
			return nil, err
		}
	}

	a, b, err := socketpair.SocketPair()
	if err != nil {
		return nil, err
	}
	s := &fakeStream{Conn: a, writesLeft: -1}
	if p.writeLimit != nil {
		s.writesLeft = p.writeLimit(n)
	}

	p.mtx.Lock()
	p.open[channel]++
	if p.open[channel] > p.maxOpen[channel] {
		p.maxOpen[channel] = p.open[channel]
	}
	p.mtx.Unlock()
	s.onClose = func() {
		p.mtx.Lock()
		defer p.mtx.Unlock()
		p.open[channel]--
	}

	if p.deadStream != nil {
		if stderr, dead := p.deadStream(n); dead {
			s.stderr = stderr
			b.Close()
			return s, nil
		}
	}

	peer := newFakePeer(channel, b, p.codec)
	if p.greet {
		var out []byte
		for _, v := range append([]interface{}{greeting}, p.greetWith...) {
			frame, err := p.codec.Marshal(v)
			if err != nil {
				return nil, err
			}
			out = append(out, frame...)
		}
		if _, err := b.Write(out); err != nil {
			return nil, err
		}
	}
	p.peers <- peer
	return s, nil
}

func (p *fakeProvider) nextPeer(t *testing.T) *fakePeer {
	select {
	case peer := <-p.peers:
		return peer
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

func (p *fakeProvider) stats() (opens int, maxOpen map[string]int) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	maxOpen = make(map[string]int, len(p.maxOpen))
	for k, v := range p.maxOpen {
		maxOpen[k] = v
	}
	return p.opens, maxOpen
}

func (p *fakeProvider) openTimes() []time.Time {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]time.Time(nil), p.openedAt...)
}

func newTestClient(t *testing.T, config Config, p transport.Provider, hs Handshake) (*Client, *eventRecorder) {
	t.Helper()
	if hs == nil {
		hs = PassiveHandshake{}
	}
	rec := &eventRecorder{log: logger.NewRecordingOutlet()}
	log := logger.NewTestLogger(t).WithOutlet(rec.log, logger.Debug)
	c, err := NewClient(config, p, hs, rec, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return c, rec
}

func waitState(t *testing.T, c *Client, channel string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := c.ChannelState(channel)
		return err == nil && s == want
	}, testTimeout, time.Millisecond, "channel %q never reached %s", channel, want)
}

func asInt(t *testing.T, v interface{}) int {
	switch i := v.(type) {
	case int8:
		return int(i)
	case int16:
		return int(i)
	case int32:
		return int(i)
	case int64:
		return int(i)
	case int:
		return i
	case uint8:
		return int(i)
	case uint16:
		return int(i)
	case uint32:
		return int(i)
	case uint64:
		return int(i)
	default:
		t.Fatalf("not an integer: %T %v", v, v)
		return 0
	}
}
