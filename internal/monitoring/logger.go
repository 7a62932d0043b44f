// Package monitoring holds the package-level diagnostic hooks used by the
// fitter, the downsampler and the sweep runner.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose turns per-step tracing on or off. Tracing is off by default.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether per-step tracing is on.
func Verbose() bool { return verbose.Load() }

// Tracef forwards to Logf when verbose tracing is on.
func Tracef(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}
