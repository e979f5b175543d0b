// Package ssh implements a transport.Provider that forks the system ssh
// binary and speaks over its stdin and stdout.
package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/logger"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/util/tailbuf"
)

const DefaultSSHCommand = "ssh"

type Endpoint struct {
	Host          string
	User          string
	Port          uint16
	IdentityFile  string
	SSHCommand    string
	Options       []string
	RemoteCommand string
}

type Provider struct {
	endpoint Endpoint
}

func ProviderFromConfig(in *config.SSHConnect) (*Provider, error) {
	if in.Host == "" {
		return nil, errors.New("ssh transport: host must not be empty")
	}
	return &Provider{endpoint: Endpoint{
		Host:          in.Host,
		User:          in.User,
		Port:          in.Port,
		IdentityFile:  in.IdentityFile,
		SSHCommand:    in.SSHCommand,
		Options:       in.Options,
		RemoteCommand: in.RemoteCommand,
	}}, nil
}

func NewProvider(ep Endpoint) *Provider {
	return &Provider{endpoint: ep}
}

func (e Endpoint) command() string {
	if e.SSHCommand != "" {
		return e.SSHCommand
	}
	return DefaultSSHCommand
}

func (e Endpoint) args() []string {
	args := make([]string, 0, 2*len(e.Options)+8)
	if e.Port != 0 {
		args = append(args, "-p", fmt.Sprintf("%d", e.Port))
	}
	if e.IdentityFile != "" {
		args = append(args, "-i", e.IdentityFile)
	}
	// no -q here, the stderr diagnostics are needed to classify failures
	args = append(args, "-o", "BatchMode=yes")
	for _, option := range e.Options {
		args = append(args, "-o", option)
	}
	if e.User != "" {
		args = append(args, fmt.Sprintf("%s@%s", e.User, e.Host))
	} else {
		args = append(args, e.Host)
	}
	remote := e.RemoteCommand
	if remote == "" {
		remote = "stream"
	}
	return append(args, remote)
}

func (p *Provider) Open(ctx context.Context, channel string) (transport.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := p.endpoint.args()
	transport.GetLogger(ctx).
		WithField(logger.FieldChannel, channel).
		WithField("cmd", p.endpoint.command()).
		WithField("args", args).
		Debug("forking ssh")
	cmd := exec.Command(p.endpoint.command(), args...)
	s, err := newStream(cmd)
	return s, errors.Wrap(err, "cannot start ssh")
}

// Stream is the stdin and stdout of a forked process.
type Stream struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *tailbuf.Buffer

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

var _ transport.Stream = (*Stream)(nil)

func newStream(cmd *exec.Cmd) (*Stream, error) {
	// Pipes are created here instead of cmd.StdoutPipe because Wait would
	// close the read end while it is still being read.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	s := &Stream{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: tailbuf.New(tailbuf.DefaultMax),
		exited: make(chan struct{}),
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = s.stderr

	err = cmd.Start()
	// the child holds its own copies now
	stdinR.Close()
	stdoutW.Close()
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		return nil, err
	}

	go func() {
		defer close(s.exited)
		s.waitErr = cmd.Wait()
	}()
	return s, nil
}

func (s *Stream) exitError() error {
	if s.waitErr == nil {
		return nil
	}
	return &transport.ErrorWithStderr{
		Err:    errors.Wrap(s.waitErr, "ssh command failed"),
		Stderr: s.stderr.String(),
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		// wait for the post-mortem so a failed command is reported as such
		<-s.exited
		if exitErr := s.exitError(); exitErr != nil {
			return n, exitErr
		}
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.stdin.Write(p)
	if err != nil && errors.Is(err, unix.EPIPE) {
		<-s.exited
		if exitErr := s.exitError(); exitErr != nil {
			return n, exitErr
		}
	}
	return n, err
}

func (s *Stream) Stderr() string {
	return s.stderr.String()
}

// Close terminates the process. Pending Read and Write calls return.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.exited
		s.stdout.Close()
	})
	return nil
}
