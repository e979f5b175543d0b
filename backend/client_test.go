package backend

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mteguhsat/aetros-cli/codec"
	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
)

func TestNewClientValidation(t *testing.T) {
	p := newFakeProvider()

	conf := testConfig(t)
	conf.Channels = nil
	_, err := NewClient(conf, p, PassiveHandshake{}, nil, nil)
	assert.Error(t, err)

	conf = testConfig(t, "", "files", "")
	_, err = NewClient(conf, p, PassiveHandshake{}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient(testConfig(t), nil, PassiveHandshake{}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient(testConfig(t), p, nil, nil, nil)
	assert.Error(t, err)

	c, err := NewClient(testConfig(t, "", "files"), p, PassiveHandshake{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "files"}, c.Channels())
	assert.NotEmpty(t, c.SessionID())
	s, err := c.ChannelState("files")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, s)
	_, err = c.ChannelState("nope")
	assert.Error(t, err)
}

func TestConfigFromConfig(t *testing.T) {
	conf, err := config.ParseConfigBytes([]byte(`
connect:
  type: ssh
  host: trainer.example.com
client:
  channels: ["", "files"]
  codec: cbor
  chunk_size: 4096
  go_offline_on_first_failed_attempt: false
`))
	require.NoError(t, err)
	c, err := ConfigFromConfig(conf.Client)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "files"}, c.Channels)
	assert.Equal(t, codec.NameCBOR, c.Codec.Name())
	assert.Equal(t, 4096, c.ChunkSize)
	assert.Equal(t, 1<<20, c.MaxBytesPerCycle)
	assert.False(t, c.GoOfflineOnFirstFailedAttempt)
	assert.Equal(t, 5*time.Second, c.ReconnectDelay)
	assert.Equal(t, 15*time.Second, c.BackoffDelay)
	assert.Equal(t, 10, c.BackoffAfterTries)

	c, err = ConfigFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, c.Channels)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ConnectedUnregistered", StateConnectedUnregistered.String())
	s, err := StateString("Registered")
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, s)
	assert.Equal(t, "State(42)", State(42).String())
	assert.False(t, State(42).IsAState())
}

func TestSendOrdering(t *testing.T) {
	p := newFakeProvider()
	conf := testConfig(t)
	conf.MaxBytesPerCycle = 64
	c, _ := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, c.Send("", map[string]interface{}{"seq": i}))
	}

	peer := p.nextPeer(t)
	for i := 0; i < n; i++ {
		r := peer.next(t)
		assert.Equal(t, i, asInt(t, r["seq"]))
	}
	require.Eventually(t, func() bool {
		l, _ := c.QueueLength("")
		return l == 0
	}, testTimeout, time.Millisecond)
}

func TestWriteCycleStopsAfterByteCap(t *testing.T) {
	p := newFakeProvider()
	p.gate = make(chan struct{})
	conf := testConfig(t)
	// each record below encodes to 41 bytes, so a cycle ends after the second
	conf.MaxBytesPerCycle = 64
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	const n = 6
	for i := 0; i < n; i++ {
		require.NoError(t, c.Send("", map[string]interface{}{"seq": i, "pad": strings.Repeat("x", 30)}))
	}
	close(p.gate)

	peer := p.nextPeer(t)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, asInt(t, peer.next(t)["seq"]))
	}

	require.Eventually(t, func() bool {
		return len(rec.log.Matching("write cycle done")) == n/2
	}, testTimeout, time.Millisecond)
	for _, e := range rec.log.Matching("write cycle done") {
		assert.Equal(t, 2, e.Fields["sent"])
		assert.Equal(t, 82, e.Fields["bytes"])
	}
}

func TestSendUnknownChannel(t *testing.T) {
	c, _ := newTestClient(t, testConfig(t), newFakeProvider(), nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Send("files", map[string]interface{}{"x": 1}))
}

func TestSendInactiveIsNoop(t *testing.T) {
	c, _ := newTestClient(t, testConfig(t), newFakeProvider(), nil)
	require.NoError(t, c.Send("", map[string]interface{}{"x": 1}))
	l, err := c.QueueLength("")
	require.NoError(t, err)
	assert.Equal(t, 0, l)
}

func TestTransmitRetriesWholeMessage(t *testing.T) {
	p := newFakeProvider()
	p.writeLimit = func(n int) int {
		if n == 0 {
			return 2
		}
		return -1
	}
	conf := testConfig(t)
	conf.ChunkSize = 16
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	blob := strings.Repeat("x", 100)
	msg := map[string]interface{}{"blob": blob}
	encoded, err := conf.Codec.Marshal(msg)
	require.NoError(t, err)
	require.True(t, len(encoded) > 3*conf.ChunkSize)

	first := p.nextPeer(t)
	require.NoError(t, c.Send("", msg))

	// the first stream breaks after two chunks
	_, ok := <-first.recv
	assert.False(t, ok, "partial message must not decode")
	assert.EqualValues(t, 2*conf.ChunkSize, first.bytes.Load())

	second := p.nextPeer(t)
	r := second.next(t)
	assert.Equal(t, blob, r["blob"])
	assert.EqualValues(t, len(encoded), second.bytes.Load())

	assert.True(t, c.Online())
	assert.Equal(t, 1, rec.count(EventDisconnect))
	assert.EqualValues(t, 1, c.ConnectionErrors())
}

func TestConnectAtMostOneInFlight(t *testing.T) {
	p := newFakeProvider()
	p.gate = make(chan struct{})
	c, _ := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		opens, _ := p.stats()
		return opens == 1
	}, testTimeout, time.Millisecond)

	ch := c.channels[""]
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, c.connect(ch))
		}()
	}
	wg.Wait()

	close(p.gate)
	waitState(t, c, "", StateRegistered)

	opens, maxOpen := p.stats()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, maxOpen[""])
}

func TestBackoffAfterRepeatedFailures(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(n int) error { return errors.New("connection reset by peer") }
	conf := testConfig(t)
	conf.GoOfflineOnFirstFailedAttempt = false
	conf.BackoffAfterTries = 1
	conf.BackoffDelay = 300 * time.Millisecond
	c, _ := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(p.openTimes()) >= 3 }, testTimeout, time.Millisecond)
	ts := p.openTimes()
	// the second try follows the reconnect delay, the third one waits for the backoff
	assert.Less(t, int64(ts[1].Sub(ts[0])), int64(conf.BackoffDelay))
	assert.GreaterOrEqual(t, int64(ts[2].Sub(ts[1])), int64(conf.BackoffDelay))
	assert.True(t, c.Online())
}

func TestFirstFailureGoesOffline(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(int) error { return errors.New("ssh: connect to host trainer.example.com port 22: Connection timed out") }
	c, rec := newTestClient(t, testConfig(t, "", "files"), p, nil)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return !c.Online() }, testTimeout, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(EventOffline))
	assert.True(t, c.Active())

	// offline clients make no further attempts
	opens, _ := p.stats()
	time.Sleep(50 * time.Millisecond)
	opensLater, _ := p.stats()
	assert.Equal(t, opens, opensLater)

	require.NoError(t, c.Send("", map[string]interface{}{"x": 1}))
	l, _ := c.QueueLength("")
	assert.Equal(t, 0, l)
}

func TestFirstFailureKeepsRetryingIfPolicyDisabled(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(n int) error {
		if n < 3 {
			return errors.New("ssh: Connection refused")
		}
		return nil
	}
	conf := testConfig(t)
	conf.GoOfflineOnFirstFailedAttempt = false
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	waitState(t, c, "", StateRegistered)
	assert.True(t, c.Online())
	assert.Equal(t, 0, rec.count(EventOffline))
	assert.EqualValues(t, 3, c.ConnectionTries())
	assert.Equal(t, 3, rec.count(EventDisconnect))
}

func TestFailureAfterConnectStaysOnline(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(n int) error {
		if n > 0 {
			return errors.New("ssh: Connection refused")
		}
		return nil
	}
	c, rec := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)
	peer.close()

	require.Eventually(t, func() bool { return c.ConnectionTries() >= 2 }, testTimeout, time.Millisecond)
	assert.True(t, c.Online())
	assert.Equal(t, 0, rec.count(EventOffline))
	assert.GreaterOrEqual(t, rec.count(EventDisconnect), 2)
}

func TestGreetingIsNotDispatched(t *testing.T) {
	p := newFakeProvider()
	p.greet = false
	c, rec := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	peer.send(t, map[string]interface{}{"a": "stop", "force": true})
	waitState(t, c, "", StateRegistered)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count(EventStop))
	assert.False(t, c.ExternallyStopped())
}

func TestRecordsAfterGreetingAreDispatched(t *testing.T) {
	p := newFakeProvider()
	p.greetWith = []interface{}{map[string]interface{}{"a": "stop", "force": true}}
	c, rec := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	waitState(t, c, "", StateRegistered)
	require.Eventually(t, func() bool { return rec.count(EventStop) == 1 }, testTimeout, time.Millisecond)
	assert.Equal(t, StopPayload{Force: true}, rec.payloads(EventStop)[0])
	assert.True(t, c.ExternallyStopped())
}

type replyHandshake struct {
	replies chan []interface{}
}

func (h replyHandshake) OnConnect(s *Session, reconnect bool) bool {
	msgs, err := s.WaitForFrames()
	if err != nil {
		return false
	}
	h.replies <- msgs
	return true
}

func (replyHandshake) HandleMessages(*Session, []interface{}) {}

func TestHandshakeSeesRecordsSentWithGreeting(t *testing.T) {
	p := newFakeProvider()
	p.greetWith = []interface{}{
		map[string]interface{}{"a": "registered"},
		map[string]interface{}{"a": "stop"},
	}
	hs := replyHandshake{replies: make(chan []interface{}, 1)}
	c, _ := newTestClient(t, testConfig(t), p, hs)
	require.NoError(t, c.Start(context.Background()))

	var replies []interface{}
	select {
	case replies = <-hs.replies:
	case <-time.After(testTimeout):
		t.Fatal("handshake got no reply")
	}
	require.Len(t, replies, 2)
	for i, want := range []string{"registered", "stop"} {
		r, ok := codec.AsRecord(replies[i])
		require.True(t, ok)
		a, _ := r.String("a")
		assert.Equal(t, want, a)
	}
	waitState(t, c, "", StateRegistered)
}

func TestStopFiresOnce(t *testing.T) {
	p := newFakeProvider()
	c, rec := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)
	peer.send(t, map[string]interface{}{"a": "stop", "force": true})
	peer.send(t, map[string]interface{}{"a": "stop", "force": false})

	require.Eventually(t, func() bool { return rec.count(EventStop) > 0 }, testTimeout, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stops := rec.payloads(EventStop)
	require.Len(t, stops, 1)
	assert.Equal(t, StopPayload{Force: true}, stops[0])
	assert.True(t, c.ExternallyStopped())
}

func TestPermissionDeniedIsFatal(t *testing.T) {
	p := newFakeProvider()
	p.deadStream = func(int) (string, bool) {
		return "git@trainer.example.com: Permission denied (publickey).", true
	}
	conf := testConfig(t)
	conf.GoOfflineOnFirstFailedAttempt = false
	fatal := make(chan error, 1)
	conf.OnFatal = func(err error) { fatal <- err }
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	select {
	case err := <-fatal:
		assert.Error(t, err)
	case <-time.After(testTimeout):
		t.Fatal("fatal handler not called")
	}
	assert.False(t, c.Active())
	assert.False(t, c.Online())
	assert.Equal(t, 1, rec.count(EventClose))
	s, _ := c.ChannelState("")
	assert.Equal(t, StateClosed, s)

	opens, _ := p.stats()
	assert.Equal(t, 1, opens)
}

func TestPermissionDeniedFromProvider(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(int) error { return errors.Wrap(transport.ErrPermissionDenied, "ssh handshake") }
	conf := testConfig(t)
	fatal := make(chan error, 1)
	conf.OnFatal = func(err error) { fatal <- err }
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	select {
	case err := <-fatal:
		assert.True(t, errors.Is(err, transport.ErrPermissionDenied))
	case <-time.After(testTimeout):
		t.Fatal("fatal handler not called")
	}
	// first failure took the client offline before it was closed
	assert.Equal(t, 1, rec.count(EventOffline))
	assert.Equal(t, 0, rec.count(EventClose))
}

func TestDrainAndStop(t *testing.T) {
	p := newFakeProvider()
	c, _ := newTestClient(t, testConfig(t, "", "files"), p, nil)
	require.NoError(t, c.Start(context.Background()))

	const m = 20
	for i := 0; i < m; i++ {
		require.NoError(t, c.Send("", map[string]interface{}{"seq": i}))
		require.NoError(t, c.Send("files", map[string]interface{}{"seq": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.DrainAndStop(ctx))
	assert.True(t, c.writersExited())

	for _, name := range c.Channels() {
		l, err := c.QueueLength(name)
		require.NoError(t, err)
		assert.Equal(t, 0, l, "channel %q", name)
	}

	require.NoError(t, c.Send("", map[string]interface{}{"late": true}))
	l, _ := c.QueueLength("")
	assert.Equal(t, 0, l)

	received := map[string]int{}
	for i := 0; i < 2; i++ {
		peer := p.nextPeer(t)
		for j := 0; j < m; j++ {
			assert.Equal(t, j, asInt(t, peer.next(t)["seq"]))
		}
		received[peer.channel] = m
	}
	assert.Equal(t, map[string]int{"": m, "files": m}, received)
}

func TestDrainCanceled(t *testing.T) {
	p := newFakeProvider()
	p.gate = make(chan struct{})
	c, _ := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send("", map[string]interface{}{"x": 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.DrainAndStop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEnd(t *testing.T) {
	p := newFakeProvider()
	c, rec := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send("", map[string]interface{}{"seq": i}))
	}

	ended := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		ended <- c.End(ctx)
	}()

	for i := 0; i < 3; i++ {
		assert.Equal(t, i, asInt(t, peer.next(t)["seq"]))
	}
	end := peer.next(t)
	assert.Equal(t, "end", end["type"])

	select {
	case err := <-ended:
		t.Fatalf("End returned before the peer closed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	peer.close()
	select {
	case err := <-ended:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("End did not return")
	}

	assert.False(t, c.Online())
	assert.False(t, c.Active())
	assert.Equal(t, 0, rec.count(EventDisconnect))

	c.Close()
	assert.Equal(t, 0, rec.count(EventClose))
}

func TestEndWarnsWhileWaitingForClose(t *testing.T) {
	p := newFakeProvider()
	conf := testConfig(t)
	conf.CloseWaitWarnInterval = 20 * time.Millisecond
	c, rec := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := c.End(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "end", peer.next(t)["type"])

	warns := rec.log.Matching("still waiting for the server to close the connection")
	require.GreaterOrEqual(t, len(warns), 2)
	assert.Equal(t, logger.Warn, warns[0].Level)
	ch, ok := warns[0].Channel()
	assert.True(t, ok)
	assert.Equal(t, "", ch)
	assert.GreaterOrEqual(t, int64(warns[1].Time.Sub(warns[0].Time)), int64(conf.CloseWaitWarnInterval/2))
}

func TestEndAfterDrain(t *testing.T) {
	p := newFakeProvider()
	c, _ := newTestClient(t, testConfig(t), p, nil)
	require.NoError(t, c.Start(context.Background()))

	peer := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)
	require.NoError(t, c.Send("", map[string]interface{}{"seq": 0}))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.DrainAndStop(ctx))
	assert.Equal(t, 0, asInt(t, peer.next(t)["seq"]))

	ended := make(chan error, 1)
	go func() {
		ended <- c.End(ctx)
	}()
	assert.Equal(t, "end", peer.next(t)["type"])
	peer.close()
	select {
	case err := <-ended:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("End did not return")
	}
}

func TestEndReportsDiscardedMessages(t *testing.T) {
	p := newFakeProvider()
	p.openErr = func(int) error { return errors.New("ssh: Connection refused") }
	conf := testConfig(t)
	conf.GoOfflineOnFirstFailedAttempt = false
	c, _ := newTestClient(t, conf, p, nil)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send("", map[string]interface{}{"x": 1}))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := c.End(ctx)
	require.Error(t, err)
	assert.NoError(t, ctx.Err())
	assert.Contains(t, err.Error(), "queued messages discarded")

	assert.False(t, c.Active())
}

func TestCloseFiresOnce(t *testing.T) {
	p := newFakeProvider()
	c, rec := newTestClient(t, testConfig(t, "", "files"), p, nil)
	require.NoError(t, c.Start(context.Background()))
	waitState(t, c, "", StateRegistered)
	waitState(t, c, "files", StateRegistered)

	c.Close()
	c.Close()
	c.Wait()

	assert.Equal(t, 1, rec.count(EventClose))
	assert.False(t, c.Online())
	assert.False(t, c.Active())
	for _, name := range c.Channels() {
		s, _ := c.ChannelState(name)
		assert.Equal(t, StateClosed, s, "channel %q", name)
	}
	assert.Error(t, c.Start(context.Background()))

	_, maxOpen := p.stats()
	assert.Equal(t, map[string]int{"": 1, "files": 1}, maxOpen)
}

func TestStartTwice(t *testing.T) {
	c, _ := newTestClient(t, testConfig(t), newFakeProvider(), nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
}

type countingHandshake struct {
	mtx        sync.Mutex
	reconnects []bool
	batches    [][]interface{}
}

func (h *countingHandshake) OnConnect(s *Session, reconnect bool) bool {
	h.mtx.Lock()
	h.reconnects = append(h.reconnects, reconnect)
	h.mtx.Unlock()
	s.MarkRegistered()
	return true
}

func (h *countingHandshake) HandleMessages(s *Session, msgs []interface{}) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.batches = append(h.batches, msgs)
}

func TestHandshakeReconnectFlag(t *testing.T) {
	p := newFakeProvider()
	hs := &countingHandshake{}
	c, _ := newTestClient(t, testConfig(t), p, hs)
	require.NoError(t, c.Start(context.Background()))

	first := p.nextPeer(t)
	waitState(t, c, "", StateRegistered)
	first.send(t, map[string]interface{}{"metric": 1})
	require.Eventually(t, func() bool {
		hs.mtx.Lock()
		defer hs.mtx.Unlock()
		return len(hs.batches) == 1
	}, testTimeout, time.Millisecond)

	first.close()
	p.nextPeer(t)
	waitState(t, c, "", StateRegistered)

	hs.mtx.Lock()
	defer hs.mtx.Unlock()
	assert.Equal(t, []bool{false, true}, hs.reconnects)
	assert.Equal(t, map[string]interface{}{"metric": 1}, normalize(t, hs.batches[0][0]))
}

func normalize(t *testing.T, v interface{}) map[string]interface{} {
	r, ok := codec.AsRecord(v)
	require.True(t, ok)
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		out[k] = asInt(t, v)
	}
	return out
}
