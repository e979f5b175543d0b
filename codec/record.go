package codec

import "fmt"

// Record is a decoded keyed frame.
type Record map[string]interface{}

// AsRecord returns v as a Record if it is a map with string keys.
// Decoders may produce either map[string]interface{} or
// map[interface{}]interface{} depending on the wire format.
func AsRecord(v interface{}) (Record, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return Record(m), true
	case Record:
		return m, true
	case map[interface{}]interface{}:
		r := make(Record, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			r[ks] = v
		}
		return r, true
	default:
		return nil, false
	}
}

func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value at key if it is a string (or raw bytes, which
// some encoders produce for string fields).
func (r Record) String(key string) (string, bool) {
	switch s := r[key].(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// Bool interprets the value at key as a flag. Missing keys, nil and zero
// numbers are false.
func (r Record) Bool(key string) bool {
	switch b := r[key].(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case uint64:
		return b != 0
	case float64:
		return b != 0
	default:
		return false
	}
}

func (r Record) GoString() string {
	return fmt.Sprintf("codec.Record%v", map[string]interface{}(r))
}
