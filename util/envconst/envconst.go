// Package envconst reads tuning constants from the environment.
//
// Values are parsed once and cached; a malformed value panics, since it is an
// operator error that must not silently fall back to the default.
package envconst

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var cache sync.Map

func lookup(varname string, parse func(string) (interface{}, error)) (interface{}, bool) {
	if v, ok := cache.Load(varname); ok {
		return v, true
	}
	e := os.Getenv(varname)
	if e == "" {
		return nil, false
	}
	v, err := parse(e)
	if err != nil {
		panic(fmt.Sprintf("invalid value for environment variable %s: %s", varname, err))
	}
	cache.Store(varname, v)
	return v, true
}

func Duration(varname string, def time.Duration) time.Duration {
	v, ok := lookup(varname, func(s string) (interface{}, error) { return time.ParseDuration(s) })
	if !ok {
		return def
	}
	return v.(time.Duration)
}

func Int(varname string, def int) int {
	v, ok := lookup(varname, func(s string) (interface{}, error) {
		i, err := strconv.ParseInt(s, 10, strconv.IntSize)
		return int(i), err
	})
	if !ok {
		return def
	}
	return v.(int)
}

func Bool(varname string, def bool) bool {
	v, ok := lookup(varname, func(s string) (interface{}, error) { return strconv.ParseBool(s) })
	if !ok {
		return def
	}
	return v.(bool)
}

func String(varname string, def string) string {
	v, ok := lookup(varname, func(s string) (interface{}, error) { return s, nil })
	if !ok {
		return def
	}
	return v.(string)
}
