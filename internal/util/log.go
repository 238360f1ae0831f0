// Package util provides logging and traffic accounting shared by every
// session component.
package util

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/pterm/pterm"
)

// logger holds the *pterm.Logger every helper writes through. Console tables
// go to stdout, so log lines default to stderr to keep the two apart.
var logger atomic.Pointer[pterm.Logger]

func init() {
	logger.Store(pterm.DefaultLogger.
		WithTime(true).
		WithTimeFormat("02 Jan 15:04:05").
		WithMaxWidth(1000).
		WithWriter(os.Stderr))
}

func current() *pterm.Logger { return logger.Load() }

// SetLogWriter redirects every log line to w.
func SetLogWriter(w io.Writer) {
	logger.Store(current().WithWriter(w))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	logger.Store(current().WithLevel(pterm.LogLevelDebug))
}

// Leveled logging helpers. Formatting is done here so call sites read like
// fmt.Printf.

func LogDebug(format string, args ...interface{}) {
	current().Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	current().Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone (session started, peer joined).
func LogSuccess(format string, args ...interface{}) {
	current().Info(fmt.Sprintf(format, args...), current().Args("ok", true))
}

func LogWarning(format string, args ...interface{}) {
	current().Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	current().Error(fmt.Sprintf(format, args...))
}
