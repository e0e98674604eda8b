// internal/recovery/recovery.go
// Package recovery turns panics in main and in worker goroutines into a
// logged fatal error and a non-zero exit.
package recovery

import (
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	logger atomic.Pointer[logrus.Logger]
	exit   = os.Exit
)

// SetLogger sets the logger panics are reported to. nil restores the
// standard logger.
func SetLogger(l *logrus.Logger) {
	logger.Store(l)
}

func log() *logrus.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return logrus.StandardLogger()
}

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs the panic and stack and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r)
		exit(1)
	}
}

// HandlePanicFunc logs the panic, calls cleanup and exits with code 1.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r)
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// Go runs fn in a new goroutine guarded by HandlePanicFunc(cleanup).
func Go(fn func(), cleanup func()) {
	go func() {
		defer HandlePanicFunc(cleanup)
		fn()
	}()
}

func report(r any) {
	log().WithFields(logrus.Fields{
		"panic": r,
		"stack": string(debug.Stack()),
	}).Error("FATAL: recovered panic")
}
