package logger

type nullOutlet struct{}

func (nullOutlet) WriteEntry(entry Entry) error { return nil }

type nullLogger struct{}

var _ Logger = nullLogger{}

// NewNullLogger returns a Logger that drops every entry. Used where a
// caller passes no logger, e.g. a backend.Client built without one.
func NewNullLogger() Logger { return nullLogger{} }

func (n nullLogger) WithOutlet(Outlet, Level) Logger         { return n }
func (n nullLogger) ReplaceField(string, interface{}) Logger { return n }
func (n nullLogger) WithField(string, interface{}) Logger    { return n }
func (n nullLogger) WithFields(Fields) Logger                { return n }
func (n nullLogger) WithError(error) Logger                  { return n }
func (nullLogger) Log(Level, string)                         {}
func (nullLogger) Debug(string)                              {}
func (nullLogger) Info(string)                               {}
func (nullLogger) Warn(string)                               {}
func (nullLogger) Error(string)                              {}
func (nullLogger) Printf(string, ...interface{})             {}
