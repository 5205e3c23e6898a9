package synthpub

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var baseLogger = atomic.NewPointer(logrus.StandardLogger())

// SetLogger replaces the logger used by loggers created afterwards.
// Passing nil restores logrus' standard logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	baseLogger.Store(l)
}

// NewComponentLogger returns a logger tagged with the given component name.
func NewComponentLogger(component string) *logrus.Entry {
	return baseLogger.Load().WithField("component", component)
}
