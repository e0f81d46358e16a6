// Package logger provides the leveled, per-package logging facility used
// throughout carrier-go. It mirrors the teacher's split between a thin
// named-logger API (this file) and a glog-style global verbosity control
// (see the glog subpackage).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level is a logging severity, ordered from least to most verbose.
type Level int

const (
	Error Level = iota
	Warn
	Info
	Debug
	// Detail is the teacher's per-packet tracing tier; use it for
	// messages that would otherwise flood logs under normal operation.
	Detail
)

func (l Level) String() string {
	switch l {
	case Error:
		return "ERROR"
	case Warn:
		return "WARN"
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Detail:
		return "DETAIL"
	default:
		return "UNKNOWN"
	}
}

var (
	mu       sync.Mutex
	minLevel = Info
	out      io.Writer = os.Stderr
)

// SetOutput redirects every Logger's output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the process-wide minimum severity that gets printed.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// Logger is a named, leveled log sink. Packages hold one package-level
// instance: `var log = logger.NewLogger("kbucket")`.
type Logger struct {
	tag string
}

// NewLogger returns a Logger tagged with the given package/component name.
func NewLogger(tag string) *Logger {
	return &Logger{tag: tag}
}

func (lg *Logger) logf(l Level, format string, args ...interface{}) {
	mu.Lock()
	enabled := l <= minLevel
	w := out
	mu.Unlock()
	if !enabled {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.New(w, "", log.LstdFlags|log.Lmicroseconds).Printf("[%s] %-6s %s", lg.tag, l, msg)
}

func (lg *Logger) Errorf(format string, args ...interface{})  { lg.logf(Error, format, args...) }
func (lg *Logger) Warnf(format string, args ...interface{})   { lg.logf(Warn, format, args...) }
func (lg *Logger) Infof(format string, args ...interface{})   { lg.logf(Info, format, args...) }
func (lg *Logger) Debugf(format string, args ...interface{})  { lg.logf(Debug, format, args...) }
func (lg *Logger) Detailf(format string, args ...interface{}) { lg.logf(Detail, format, args...) }

func (lg *Logger) Infoln(args ...interface{}) {
	lg.logf(Info, "%s", fmt.Sprintln(args...))
}

// V reports whether logging at level l is currently enabled for this
// logger, letting callers skip formatting expensive detail lines:
//
//	if log.V(logger.Detail) {
//	    log.Detailf("full state: %+v", tab)
//	}
func (lg *Logger) V(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return l <= minLevel
}
