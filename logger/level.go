package logger

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Levels ordered least severe to most severe
var AllLevels = []Level{Debug, Info, Warn, Error}

var levelNames = [...]struct{ short, long string }{
	Debug: {"DEBG", "debug"},
	Info:  {"INFO", "info"},
	Warn:  {"WARN", "warn"},
	Error: {"ERRO", "error"},
}

func (l Level) valid() bool { return l >= Debug && l <= Error }

// Short is the fixed-width name used by the human formatter.
func (l Level) Short() string {
	if !l.valid() {
		return fmt.Sprintf("L(%d)", int(l))
	}
	return levelNames[l].short
}

func (l Level) String() string {
	if !l.valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l].long
}

func ParseLevel(s string) (Level, error) {
	for _, l := range AllLevels {
		if levelNames[l].long == s {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level '%s'", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(input []byte) (err error) {
	var s string
	if err = json.Unmarshal(input, &s); err != nil {
		return err
	}
	*l, err = ParseLevel(s)
	return err
}
