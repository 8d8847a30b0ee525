// Package monitoring holds the diagnostic logger shared by the pipeline packages.
package monitoring

import (
	"log"
	"sync/atomic"

	"golang.org/x/time/rate"
)

type logFunc func(format string, v ...interface{})

var logger atomic.Pointer[logFunc]

func init() { SetLogger(log.Printf) }

// Logf writes through the package-level diagnostic logger. It defaults to
// log.Printf and can be replaced with SetLogger, e.g. to mute output in tests.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// SetLogger replaces the logger behind Logf. Passing nil installs a no-op
// logger. Safe to call while other goroutines log.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	lf := logFunc(f)
	logger.Store(&lf)
}

// Once logs through Logf only the first time it is called.
type Once struct {
	s rate.Sometimes
}

func NewOnce() *Once {
	return &Once{s: rate.Sometimes{First: 1}}
}

func (o *Once) Logf(format string, v ...interface{}) {
	o.s.Do(func() { Logf(format, v...) })
}
