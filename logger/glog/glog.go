// Package glog is a condensed, Carrier-flavored port of the teacher's
// logger/glog package (itself derived from Google's glog): global,
// flag-driven verbosity control layered on top of the per-package
// logger.Logger. It is intentionally small — carrier-go has no CLI of its
// own (out of scope, see spec.md §1), so it exists to give a host
// application a single verbosity knob to wire to its own flag package.
package glog

import (
	"strconv"
	"sync/atomic"

	"github.com/elastos-carrier/carrier-go/logger"
)

// verbosity is the global V-level threshold; V(n) is enabled when n <=
// the current verbosity.
var verbosity int32

// Verbosity implements flag.Value so a host CLI can bind it directly:
//
//	flag.Var(glog.Verbosity(), "verbosity", "log verbosity (0-4)")
type verbosityValue struct{}

func Verbosity() *verbosityValue { return &verbosityValue{} }

func (*verbosityValue) String() string {
	return strconv.Itoa(int(atomic.LoadInt32(&verbosity)))
}

func (*verbosityValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&verbosity, int32(n))
	logger.SetLevel(logger.Level(n))
	return nil
}

// SetToStderr mirrors the teacher's glog.SetToStderr; carrier-go always
// logs to stderr by default so this is a no-op kept for API parity with
// code ported from the teacher.
func SetToStderr(bool) {}

// Verbose is the boolean returned by V(level); it exposes Infof etc. so
// callers can write `glog.V(logger.Debug).Infof(...)`.
type Verbose bool

// V reports whether verbose logging at the given level is enabled.
func V(level logger.Level) Verbose {
	return Verbose(int32(level) <= atomic.LoadInt32(&verbosity))
}

var root = logger.NewLogger("glog")

func (v Verbose) Infof(format string, args ...interface{}) {
	if v {
		root.Infof(format, args...)
	}
}

func Infof(format string, args ...interface{})    { root.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { root.Warnf(format, args...) }
func Errorf(format string, args ...interface{})   { root.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) {
	root.Errorf(format, args...)
	panic(args)
}
