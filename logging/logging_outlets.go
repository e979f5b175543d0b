package logging

import (
	"context"
	"crypto/tls"
	"io"
	"log/syslog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mteguhsat/aetros-cli/logger"
)

type EntryFormatter interface {
	SetMetadataFlags(flags MetadataFlags)
	Format(e *logger.Entry) ([]byte, error)
}

// WriterOutlet writes one formatted line per entry.
type WriterOutlet struct {
	formatter EntryFormatter
	writer    io.Writer
}

func NewWriterOutlet(formatter EntryFormatter, writer io.Writer) WriterOutlet {
	return WriterOutlet{formatter, writer}
}

func (o WriterOutlet) WriteEntry(entry logger.Entry) error {
	line, err := o.formatter.Format(&entry)
	if err != nil {
		return err
	}
	_, err = o.writer.Write(append(line, '\n'))
	return err
}

const tcpOutletBacklog = 64

// TCPOutlet ships entries to a remote log collector. Entries that arrive
// while the collector is unreachable or slow are dropped and counted.
type TCPOutlet struct {
	formatter     EntryFormatter
	dial          func(ctx context.Context) (net.Conn, error)
	retryInterval time.Duration

	lines     chan []byte
	dropped   atomic.Int64
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewTCPOutlet(formatter EntryFormatter, network, address string, tlsConfig *tls.Config, retryInterval time.Duration) *TCPOutlet {
	dialer := &net.Dialer{Timeout: retryInterval}
	o := &TCPOutlet{
		formatter:     formatter,
		retryInterval: retryInterval,
		lines:         make(chan []byte, tcpOutletBacklog),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	o.dial = func(ctx context.Context) (net.Conn, error) {
		if tlsConfig != nil {
			d := tls.Dialer{NetDialer: dialer, Config: tlsConfig}
			return d.DialContext(ctx, network, address)
		}
		return dialer.DialContext(ctx, network, address)
	}
	go o.run()
	return o
}

func (o *TCPOutlet) run() {
	defer close(o.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-o.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	for {
		var line []byte
		select {
		case line = <-o.lines:
		case <-o.stop:
			return
		}
		if conn == nil {
			var err error
			if conn, err = o.dial(ctx); err != nil {
				conn = nil
				o.dropped.Add(1)
				if !o.pause() {
					return
				}
				continue
			}
		}
		err := conn.SetWriteDeadline(time.Now().Add(o.retryInterval))
		if err == nil {
			_, err = conn.Write(line)
		}
		if err != nil {
			o.dropped.Add(1)
			conn.Close()
			conn = nil
		}
	}
}

// pause waits for the retry interval; it returns false if the outlet was closed.
func (o *TCPOutlet) pause() bool {
	t := time.NewTimer(o.retryInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-o.stop:
		return false
	}
}

func (o *TCPOutlet) WriteEntry(e logger.Entry) error {
	line, err := o.formatter.Format(&e)
	if err != nil {
		return err
	}
	select {
	case <-o.stop:
		return errors.New("tcp outlet is closed")
	default:
	}
	select {
	case o.lines <- append(line, '\n'):
		return nil
	default:
		o.dropped.Add(1)
		return errors.New("log collector unreachable or too slow, entry dropped")
	}
}

// Dropped returns the number of entries that never reached the collector.
func (o *TCPOutlet) Dropped() int64 { return o.dropped.Load() }

// Close stops the outlet and closes the connection. Queued entries are discarded.
func (o *TCPOutlet) Close() {
	o.closeOnce.Do(func() { close(o.stop) })
	<-o.done
}

const syslogTag = "aetros"

// SyslogOutlet writes to the local syslog daemon. After a failure it
// reconnects at most once per RetryInterval; entries in between are dropped.
type SyslogOutlet struct {
	Formatter     EntryFormatter
	RetryInterval time.Duration
	Facility      syslog.Priority

	mtx         sync.Mutex
	writer      *syslog.Writer
	lastAttempt time.Time
}

func (o *SyslogOutlet) WriteEntry(entry logger.Entry) error {
	msg, err := o.Formatter.Format(&entry)
	if err != nil {
		return err
	}

	o.mtx.Lock()
	defer o.mtx.Unlock()
	w, err := o.writerLocked()
	if w == nil {
		return err
	}
	if err := syslogWrite(w, entry.Level, string(msg)); err != nil {
		w.Close()
		o.writer = nil
		return err
	}
	return nil
}

// writerLocked returns nil and no error while waiting for the retry interval.
func (o *SyslogOutlet) writerLocked() (*syslog.Writer, error) {
	if o.writer != nil {
		return o.writer, nil
	}
	if time.Since(o.lastAttempt) < o.RetryInterval {
		return nil, nil
	}
	o.lastAttempt = time.Now()
	w, err := syslog.New(o.Facility, syslogTag)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to syslog")
	}
	o.writer = w
	return w, nil
}

func syslogWrite(w *syslog.Writer, level logger.Level, msg string) error {
	switch level {
	case logger.Debug:
		return w.Debug(msg)
	case logger.Info:
		return w.Info(msg)
	case logger.Warn:
		return w.Warning(msg)
	default:
		return w.Err(msg)
	}
}
