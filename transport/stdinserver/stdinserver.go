// Package stdinserver implements a transport.Provider that connects to a
// netssh stdinserver endpoint. The remote side forces the command through
// authorized_keys, so no remote command is sent.
package stdinserver

import (
	"context"
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/problame/go-netssh"

	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
)

type Connecter struct {
	Host         string
	User         string
	Port         uint16
	IdentityFile string
	SSHCommand   string
	Options      []string
	dialTimeout  time.Duration
	dial         func(ctx context.Context, e netssh.Endpoint) (*netssh.SSHConn, error)
}

func ProviderFromConfig(in *config.SSHStdinserverConnect) (c *Connecter, err error) {

	c = &Connecter{
		Host:         in.Host,
		User:         in.User,
		Port:         in.Port,
		IdentityFile: in.IdentityFile,
		SSHCommand:   in.SSHCommand,
		Options:      in.Options,
		dialTimeout:  in.DialTimeout,
		dial:         netssh.Dial,
	}
	return

}

func (c *Connecter) endpoint() (netssh.Endpoint, error) {
	var endpoint netssh.Endpoint
	if err := copier.Copy(&endpoint, c); err != nil {
		return endpoint, errors.WithStack(err)
	}
	return endpoint, nil
}

func (c *Connecter) Open(ctx context.Context, channel string) (transport.Stream, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	log := transport.GetLogger(ctx).WithField(logger.FieldChannel, channel)
	dialCtx := netssh.ContextWithLog(ctx, log)
	dialCtx, dialCancel := context.WithTimeout(dialCtx, c.dialTimeout)
	defer dialCancel()
	nconn, err := c.dial(dialCtx, endpoint)
	if err != nil {
		if err == context.DeadlineExceeded {
			err = errors.Errorf("dial_timeout of %s exceeded", c.dialTimeout)
		}
		return nil, errors.Wrap(err, "cannot dial stdinserver")
	}
	return stream{nconn}, nil
}

// netssh does not expose the ssh process' stderr, failures are only
// visible through the errors it returns.
type stream struct{ *netssh.SSHConn }

func (stream) Stderr() string { return "" }
