package logger

import (
	"fmt"
	"os"
)

type stderrLoggerOutlet struct{}

func (stderrLoggerOutlet) WriteEntry(entry Entry) error {
	fmt.Fprintf(os.Stderr, "%s [%s] %s %v\n",
		entry.Time.Format("15:04:05.000"), entry.Level.Short(), entry.Message, entry.Fields)
	return nil
}

// NewStderrDebugLogger is meant for ad-hoc tooling and debugging sessions
// where no logging configuration is available.
func NewStderrDebugLogger() Logger {
	outlets := NewOutlets()
	outlets.Add(&stderrLoggerOutlet{}, Debug)
	return NewLogger(outlets, 0)
}
