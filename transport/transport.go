// Package transport defines the duplex byte streams the backend client
// speaks its record protocol over. Implementations live in sub-packages.
package transport

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/mteguhsat/aetros-cli/logger"
)

// A Stream is one remote command invocation bound to a channel.
// Read and Write may be called concurrently from different goroutines.
// Close unblocks pending Read and Write calls.
type Stream interface {
	io.ReadWriteCloser
	// Stderr returns diagnostic output the remote side or the local
	// transport process emitted so far. Only the tail is retained.
	Stderr() string
}

type Provider interface {
	Open(ctx context.Context, channel string) (Stream, error)
}

var ErrPermissionDenied = errors.New("permission denied")

const (
	stderrPermissionDenied   = "Permission denied"
	stderrConnectionRefused  = "Connection refused"
	stderrNoAuthMethodsAvail = "No authentication methods available"
)

// IsPermissionDenied reports whether err or the stream diagnostics indicate
// that the credentials were rejected. Retrying cannot fix such a failure.
func IsPermissionDenied(err error, stderr string) bool {
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || strings.Contains(err.Error(), stderrPermissionDenied) {
			return true
		}
	}
	return strings.Contains(stderr, stderrPermissionDenied)
}

func IsConnectionRefused(stderr string) bool {
	return strings.Contains(stderr, stderrConnectionRefused)
}

func IsNoAuthMethods(err error) bool {
	return err != nil && strings.Contains(err.Error(), stderrNoAuthMethodsAvail)
}

// ErrorWithStderr decorates err with the stream's diagnostic output.
type ErrorWithStderr struct {
	Err    error
	Stderr string
}

func (e *ErrorWithStderr) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": stderr:\n" + e.Stderr
}

func (e *ErrorWithStderr) Cause() error  { return e.Err }
func (e *ErrorWithStderr) Unwrap() error { return e.Err }

type contextKey int

const contextKeyLog contextKey = 0

type Logger = logger.Logger

func WithLogger(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, log)
}

func GetLogger(ctx context.Context) Logger {
	if log, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return log
	}
	return logger.NewNullLogger()
}
