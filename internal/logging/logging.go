// Package logging is the diagnostic logger shared by the pipeline packages.
//
// It is a thin levelled layer over the standard library logger. The sink
// defaults to log.Printf and may be replaced with SetLogger, which lets tests
// mute or capture output and lets the MCP server keep stdout clean.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level orders log messages by severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case label used as the message prefix.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// ParseLevel converts a name such as "debug" or "WARN" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	level atomic.Int32
	sink  atomic.Value // func(format string, v ...interface{})
)

func init() {
	level.Store(int32(LevelInfo))
	sink.Store(log.Printf)
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) { level.Store(int32(l)) }

// CurrentLevel returns the minimum level that is written.
func CurrentLevel() Level { return Level(level.Load()) }

// SetLogger replaces the sink. Passing nil mutes all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	sink.Store(f)
}

// LevelFromEnv applies the level named by the environment variable key, if set.
// An unparseable value leaves the level unchanged and is reported as a warning.
func LevelFromEnv(key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	l, err := ParseLevel(v)
	if err != nil {
		Warnf("%s: %v", key, err)
		return
	}
	SetLevel(l)
}

func logf(l Level, format string, v ...interface{}) {
	if l < CurrentLevel() {
		return
	}
	f := sink.Load().(func(string, ...interface{}))
	f(l.String()+" "+format, v...)
}

func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }
