// Package backend implements the streaming client that keeps one long-lived
// record stream per channel open to the coordination service.
//
// Each channel is served by exactly two goroutines: a writer that drains the
// channel's outbound queue and (re)connects when needed, and a reader that
// decodes incoming records and dispatches them. Both share the Client's lock
// and flags. Application-level registration is delegated to a Handshake.
package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
)

type Logger = logger.Logger

type Client struct {
	config    Config
	provider  transport.Provider
	handshake Handshake
	listener  EventListener
	log       Logger
	metrics   *metrics
	sessionID string

	// immutable after NewClient
	channels     map[string]*channel
	channelOrder []string

	// protects channel state, queues, connections and externalStopped
	mtx             sync.Mutex
	externalStopped bool

	active           atomic.Bool
	online           atomic.Bool
	expectClose      atomic.Bool
	inConnecting     atomic.Bool
	stopOnEmptyQueue atomic.Bool

	connectionErrors atomic.Int64
	connectionTries  atomic.Int64
	nextMessageID    atomic.Uint64

	ctx         context.Context
	cancel      context.CancelFunc
	started     atomic.Bool
	writers     errgroup.Group
	writersDone chan struct{}
	writersErr  error // valid once writersDone is closed
	readers     sync.WaitGroup
	closed      chan struct{}
	closeOnce   sync.Once
	stopSignals func()
}

// NewClient creates a client for the channels in config.
// The handshake is required; use PassiveHandshake if the peer does not
// expect a registration. listener may be nil.
func NewClient(config Config, provider transport.Provider, handshake Handshake, listener EventListener, log Logger) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid client config")
	}
	if provider == nil {
		return nil, errors.New("transport provider must not be nil")
	}
	if handshake == nil {
		return nil, errors.New("handshake must not be nil")
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	c := &Client{
		config:      config,
		provider:    provider,
		handshake:   handshake,
		listener:    listener,
		metrics:     newMetrics(),
		sessionID:   uuid.New().String(),
		channels:    make(map[string]*channel, len(config.Channels)),
		writersDone: make(chan struct{}),
		closed:      make(chan struct{}),
		stopSignals: func() {},
	}
	c.log = log.WithField(logger.FieldSession, c.sessionID)
	for _, name := range config.Channels {
		c.channels[name] = &channel{
			name: name,
			log:  c.log.WithField(logger.FieldChannel, name),
		}
		c.channelOrder = append(c.channelOrder, name)
	}
	c.online.Store(true)
	return c, nil
}

// Start spawns the reader and writer goroutines of every channel.
// A client can be started once. ctx bounds transport establishment;
// use Close or End to stop the client.
func (c *Client) Start(ctx context.Context) error {
	select {
	case <-c.closed:
		return errors.New("client is closed")
	default:
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.active.Store(true)
	if c.config.InterceptInterrupt {
		c.stopSignals = c.interceptInterrupt()
	}

	c.log.WithField("channels", len(c.channelOrder)).Info("starting client")
	for _, name := range c.channelOrder {
		ch := c.channels[name]
		c.writers.Go(func() error {
			return c.writeLoop(ch)
		})
		c.readers.Add(1)
		go func() {
			defer c.readers.Done()
			c.readLoop(ch)
		}()
	}
	go func() {
		c.writersErr = c.writers.Wait()
		close(c.writersDone)
	}()
	return nil
}

func (c *Client) channel(name string) (*channel, error) {
	ch, ok := c.channels[name]
	if !ok {
		return nil, errors.Errorf("unknown channel %q", name)
	}
	return ch, nil
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) Active() bool { return c.active.Load() }

func (c *Client) Online() bool { return c.online.Load() }

func (c *Client) ConnectionErrors() int64 { return c.connectionErrors.Load() }

func (c *Client) ConnectionTries() int64 { return c.connectionTries.Load() }

// ExternallyStopped reports whether the peer requested a stop.
func (c *Client) ExternallyStopped() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.externalStopped
}

func (c *Client) Channels() []string {
	return append([]string(nil), c.channelOrder...)
}

func (c *Client) ChannelState(name string) (State, error) {
	ch, err := c.channel(name)
	if err != nil {
		return 0, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return ch.state, nil
}

func (c *Client) QueueLength(name string) (int, error) {
	ch, err := c.channel(name)
	if err != nil {
		return 0, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(ch.queue), nil
}

func (c *Client) goOffline() {
	if !c.online.CompareAndSwap(true, false) {
		return
	}
	c.log.Warn("going offline")
	c.fire(EventOffline, nil)
}
