// Package applog builds structured loggers for components that need to
// report soft failures (gateway timeouts, trial failures, capability probe
// results) without making them fatal. Unlike the logger it is grounded on,
// it never exposes a package-level instance — every component receives its
// own *logrus.Entry, constructed once and passed by reference, consistent
// with the engine's "no process-wide mutable state" rule.
package applog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures a logger's destination and verbosity.
type Options struct {
	Level  string    // "debug", "info", "warn", "error"; defaults to "info"
	Output io.Writer // defaults to os.Stderr
}

// New builds a *logrus.Entry scoped to component, to be held by that
// component for its lifetime and passed to constructors explicitly.
func New(component string, opts Options) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(parseLevel(opts.Level))
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	return l.WithField("component", component)
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
