package logger

import "sync"

// RecordingOutlet keeps every entry it receives. Tests use it to assert on
// what a component logged.
type RecordingOutlet struct {
	mtx     sync.Mutex
	entries []Entry
}

func NewRecordingOutlet() *RecordingOutlet {
	return &RecordingOutlet{}
}

func (o *RecordingOutlet) WriteEntry(entry Entry) error {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.entries = append(o.entries, entry)
	return nil
}

func (o *RecordingOutlet) Entries() []Entry {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return append([]Entry(nil), o.entries...)
}

// Matching returns the entries with message msg, oldest first.
func (o *RecordingOutlet) Matching(msg string) []Entry {
	var es []Entry
	for _, e := range o.Entries() {
		if e.Message == msg {
			es = append(es, e)
		}
	}
	return es
}
