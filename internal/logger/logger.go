// Package logger builds the logrus loggers shared by the library and
// the command-line tools.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// New returns a logger with the prefixed text format. Output defaults
// to io.Discard at warn level, so library users opt in explicitly by
// raising the level and pointing Out somewhere useful.
func New() *logrus.Logger {
	return &logrus.Logger{
		Out:   io.Discard,
		Level: logrus.WarnLevel,
		Formatter: &prefixed.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			ForceFormatting: true,
		},
	}
}

// Discard is the fallback logger for components that were not handed
// one. It never writes anywhere.
var Discard = New()

// Named returns an entry carrying the component prefix understood by
// the prefixed formatter.
func Named(l *logrus.Logger, component string) *logrus.Entry {
	if l == nil {
		l = Discard
	}
	return l.WithField("prefix", component)
}
