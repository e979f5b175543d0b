// Package jobclient implements the job worker registration on top of the
// backend client.
package jobclient

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mteguhsat/aetros-cli/backend"
	"github.com/mteguhsat/aetros-cli/codec"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/version"
)

const (
	TypeRegisterJobWorker = "register_job_worker"
	TypeAction            = "action"

	ReplyRegistered         = "registered"
	ReplyAborted            = "aborted"
	ReplyRegistrationFailed = "registration_failed"
	ReplyParameterChanged   = "parameter-changed"
)

const noAnswerReason = "No answer received."

// RegisterRequest is the first record sent on every stream.
type RegisterRequest struct {
	Type      string `msgpack:"type" cbor:"type"`
	Model     string `msgpack:"model" cbor:"model"`
	Job       string `msgpack:"job" cbor:"job"`
	Reconnect bool   `msgpack:"reconnect" cbor:"reconnect"`
	Version   string `msgpack:"version" cbor:"version"`
	Name      string `msgpack:"name" cbor:"name"`
}

type Client struct {
	*backend.Client
	log logger.Logger

	mtx   sync.Mutex
	model string
	job   string
	name  string

	registrationFired atomic.Bool
}

func New(config backend.Config, provider transport.Provider, listener backend.EventListener, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	c := &Client{log: log}
	bc, err := backend.NewClient(config, provider, handshake{c}, listener, log)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create backend client")
	}
	c.Client = bc
	return c, nil
}

// Configure sets the job the worker registers for. It takes effect on the
// next connection.
func (c *Client) Configure(model, job, name string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.model, c.job, c.name = model, job, name
}

func (c *Client) registerRequest(channel string, reconnect bool) (RegisterRequest, string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return RegisterRequest{
		Type:      TypeRegisterJobWorker,
		Model:     c.model,
		Job:       c.job,
		Reconnect: reconnect,
		Version:   version.Version(),
		Name:      c.name + channel,
	}, c.job
}

type handshake struct {
	c *Client
}

var _ backend.Handshake = handshake{}

func (h handshake) OnConnect(s *backend.Session, reconnect bool) bool {
	req, job := h.c.registerRequest(s.Channel(), reconnect)
	log := s.Log().WithField("job", job)

	if err := s.Transmit(req); err != nil {
		log.WithError(err).Debug("cannot send registration")
		return false
	}

	log.WithField("name", req.Name).Debug("waiting for job worker registration")
	msgs, err := s.WaitForFrames()
	if err != nil || len(msgs) == 0 {
		log.WithError(err).Debug("no answer to registration")
		if s.Primary() {
			s.Fire(backend.EventRegistrationFailed, backend.RegistrationFailedPayload{Reason: noAnswerReason})
		}
		return false
	}

	first, rest := msgs[0], msgs[1:]
	log.WithField("reply", first).Debug("registration reply")
	if r, ok := codec.AsRecord(first); ok {
		a, _ := r.String("a")
		switch a {
		case ReplyAborted:
			if s.Primary() {
				log.Error("job aborted or deleted meanwhile")
				s.Fire(backend.EventAborted, nil)
			}
			s.Deactivate()
			return false

		case ReplyRegistrationFailed:
			reason, _ := r.String("reason")
			log.WithField("reason", reason).Warn("registration failed")
			if s.Primary() {
				s.Fire(backend.EventRegistrationFailed, backend.RegistrationFailedPayload{Reason: reason})
			}
			return false

		case ReplyRegistered:
			s.MarkRegistered()
			if s.Primary() && h.c.registrationFired.CompareAndSwap(false, true) {
				s.Fire(backend.EventRegistration, nil)
			}
			s.Dispatch(rest)
			return true
		}
	}

	log.Error("registration of job failed")
	return false
}

func (h handshake) HandleMessages(s *backend.Session, msgs []interface{}) {
	for _, msg := range msgs {
		if s.Stopped() {
			return
		}
		r, ok := codec.AsRecord(msg)
		if !ok {
			continue
		}
		if a, _ := r.String("a"); a == ReplyParameterChanged {
			s.Fire(backend.EventParameterChanged, backend.ParameterChangedPayload{Values: r["values"]})
		}
		if typ, _ := r.String("type"); typ == TypeAction {
			s.Fire(backend.EventAction, backend.ActionPayload(r))
		}
	}
}
