// Package native implements a transport.Provider with an in-process SSH
// client. Unlike package ssh it does not depend on an ssh binary.
package native

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/util/tailbuf"
)

type Endpoint struct {
	Host                  string
	User                  string
	Port                  uint16
	IdentityFile          string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	RemoteCommand         string
	DialTimeout           time.Duration
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Provider struct {
	addr          string
	remoteCommand string
	dialTimeout   time.Duration
	clientConfig  *ssh.ClientConfig
	dial          dialFunc
}

func ProviderFromConfig(in *config.SSHNativeConnect) (*Provider, error) {
	return NewProvider(Endpoint{
		Host:                  in.Host,
		User:                  in.User,
		Port:                  in.Port,
		IdentityFile:          in.IdentityFile,
		KnownHostsFile:        in.KnownHostsFile,
		InsecureIgnoreHostKey: in.InsecureIgnoreHostKey,
		RemoteCommand:         in.RemoteCommand,
		DialTimeout:           in.DialTimeout,
	})
}

func NewProvider(ep Endpoint) (*Provider, error) {
	if ep.Host == "" {
		return nil, errors.New("native ssh transport: host must not be empty")
	}
	if ep.IdentityFile == "" {
		return nil, errors.New("native ssh transport: identity_file must not be empty")
	}
	keyPEM, err := os.ReadFile(ep.IdentityFile)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read identity file")
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse identity file %q", ep.IdentityFile)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if ep.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		khf := ep.KnownHostsFile
		if khf == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.Wrap(err, "cannot determine default known_hosts file")
			}
			khf = filepath.Join(home, ".ssh", "known_hosts")
		}
		hostKeyCallback, err = knownhosts.New(khf)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot load known_hosts file %q", khf)
		}
	}

	port := ep.Port
	if port == 0 {
		port = 22
	}
	username := ep.User
	if username == "" {
		// like ssh(1), fall back to the local user name
		u, err := user.Current()
		if err != nil {
			return nil, errors.Wrap(err, "native ssh transport: user not set and cannot determine local user")
		}
		username = u.Username
	}
	remote := ep.RemoteCommand
	if remote == "" {
		remote = "stream"
	}
	dialTimeout := ep.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	var d net.Dialer
	return &Provider{
		addr:          net.JoinHostPort(ep.Host, strconv.Itoa(int(port))),
		remoteCommand: remote,
		dialTimeout:   dialTimeout,
		clientConfig: &ssh.ClientConfig{
			User:            username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
		},
		dial: d.DialContext,
	}, nil
}

func (p *Provider) Open(ctx context.Context, channel string) (transport.Stream, error) {
	log := transport.GetLogger(ctx).WithField(logger.FieldChannel, channel).WithField("addr", p.addr)

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, err := p.dial(dialCtx, "tcp", p.addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Errorf("dial_timeout of %s exceeded", p.dialTimeout)
		}
		return nil, errors.Wrap(err, "cannot dial")
	}

	// the handshake is bounded by the same deadline as the dial
	if dl, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, p.addr, p.clientConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, errors.Wrap(transport.ErrPermissionDenied, err.Error())
		}
		return nil, errors.Wrap(err, "ssh handshake failed")
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sconn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "cannot open ssh session")
	}
	s := &Stream{
		client: client,
		sess:   sess,
		stderr: tailbuf.New(tailbuf.DefaultMax),
	}
	sess.Stderr = s.stderr
	if s.stdin, err = sess.StdinPipe(); err != nil {
		client.Close()
		return nil, err
	}
	if s.stdout, err = sess.StdoutPipe(); err != nil {
		client.Close()
		return nil, err
	}
	if err := sess.Start(p.remoteCommand); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "cannot start remote command %q", p.remoteCommand)
	}
	log.WithField("remote_command", p.remoteCommand).Debug("ssh session started")
	return s, nil
}

// Stream is the stdin and stdout of a remote command run in an SSH session.
type Stream struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailbuf.Buffer

	waitOnce sync.Once
	waitErr  error
}

var _ transport.Stream = (*Stream)(nil)

func (s *Stream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.sess.Wait()
	})
	return s.waitErr
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		if werr := s.wait(); werr != nil {
			return n, &transport.ErrorWithStderr{
				Err:    errors.Wrap(werr, "remote command failed"),
				Stderr: s.stderr.String(),
			}
		}
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *Stream) Stderr() string {
	return s.stderr.String()
}

func (s *Stream) Close() error {
	s.sess.Close()
	err := s.client.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "cannot close ssh client")
	}
	return nil
}

func (p *Provider) String() string {
	return fmt.Sprintf("ssh+native://%s@%s", p.clientConfig.User, p.addr)
}
