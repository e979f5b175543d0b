package logger

import (
	"sync"
	"time"
)

// Field names shared by every package that logs on behalf of a stream.
const (
	FieldSubsystem = "subsystem"
	// FieldChannel is the channel name; the primary channel is "".
	FieldChannel = "channel"
	// FieldSession is the client session id, one per Client lifetime.
	FieldSession = "session"
)

type Fields map[string]interface{}

type Entry struct {
	Level   Level
	Message string
	Time    time.Time
	Fields  Fields
}

// Channel returns the entry's channel field and whether it was set at all.
func (e Entry) Channel() (string, bool) {
	ch, ok := e.Fields[FieldChannel].(string)
	return ch, ok
}

// An Outlet receives entries from a Logger and writes them to some destination.
//
// The Logger waits for all outlets to return from WriteEntry before the log
// call returns, so WriteEntry must not block.
type Outlet interface {
	WriteEntry(entry Entry) error
}

// Outlets maps each level to the outlets that want entries of that level.
type Outlets struct {
	mtx  sync.RWMutex
	outs [len(levelNames)][]Outlet
}

func NewOutlets() *Outlets {
	return &Outlets{}
}

func (os *Outlets) DeepCopy() *Outlets {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	c := NewOutlets()
	for l := range os.outs {
		c.outs[l] = append([]Outlet(nil), os.outs[l]...)
	}
	return c
}

// Add registers outlet for minLevel and every more severe level.
func (os *Outlets) Add(outlet Outlet, minLevel Level) {
	os.mtx.Lock()
	defer os.mtx.Unlock()
	for l := minLevel; l.valid(); l++ {
		os.outs[l] = append(os.outs[l], outlet)
	}
}

func (os *Outlets) Get(level Level) []Outlet {
	if !level.valid() {
		return nil
	}
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	return os.outs[level]
}

// GetLoggerErrorOutlet returns the first outlet that receives Error entries,
// or a discarding outlet if there is none.
func (os *Outlets) GetLoggerErrorOutlet() Outlet {
	os.mtx.RLock()
	defer os.mtx.RUnlock()
	if len(os.outs[Error]) < 1 {
		return nullOutlet{}
	}
	return os.outs[Error][0]
}
