// Package logging hands out a shared logrus logger so every package logs
// with the same formatter and level, the way modasi-mika's client package
// and dbermond-XD's xd/lib/log wrap a single logger instance per process.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and
// applies it to the root logger. Unknown names are ignored.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	root.SetLevel(lvl)
}

// For returns a logger scoped to a component name, e.g. For("tracker").
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}
