// Package socketpair creates connected stream pairs backed by AF_UNIX sockets.
//
// Unlike net.Pipe, writes are buffered by the kernel, so a writer is not
// blocked until the peer reads, which is what a real transport looks like.
package socketpair

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type fileConn struct {
	net.Conn // net.FileConn
	f        *os.File
}

func (c fileConn) Close() error {
	if err := c.Conn.Close(); err != nil {
		return err
	}
	return c.f.Close()
}

// CloseWrite shuts down the writing side so the peer observes EOF while
// reads on this side remain possible.
func (c fileConn) CloseWrite() error {
	uc, ok := c.Conn.(*net.UnixConn)
	if !ok {
		return errors.Errorf("socketpair: unexpected conn type %T", c.Conn)
	}
	return uc.CloseWrite()
}

func SocketPair() (a, b net.Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "socketpair")
	}
	toConn := func(fd int) (net.Conn, error) {
		f := os.NewFile(uintptr(fd), "socketpair")
		if f == nil {
			return nil, errors.Errorf("socketpair: invalid fd %d", fd)
		}
		c, err := net.FileConn(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return fileConn{Conn: c, f: f}, nil
	}
	if a, err = toConn(fds[0]); err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	if b, err = toConn(fds[1]); err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}
