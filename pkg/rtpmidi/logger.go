package rtpmidi

import "github.com/sirupsen/logrus"

// Logger is the structured logging surface used throughout the endpoint.
// It mirrors the WithComponent/WithFields chaining idiom of a hand-rolled
// logger, but every call is forwarded to a logrus.FieldLogger so output
// formatting, levels and hooks are configured the usual logrus way.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger wraps l (nil selects logrus's standard logger) with the
// component field set.
func NewLogger(l *logrus.Logger, component string) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{entry: l.WithField("component", component)}
}

// WithFields returns a derived Logger carrying additional structured
// fields, without mutating the receiver.
func (lg Logger) WithFields(fields logrus.Fields) Logger {
	return Logger{entry: lg.entry.WithFields(fields)}
}

func (lg Logger) Debugf(format string, args ...interface{}) { lg.entry.Debugf(format, args...) }
func (lg Logger) Infof(format string, args ...interface{})  { lg.entry.Infof(format, args...) }
func (lg Logger) Warnf(format string, args ...interface{})  { lg.entry.Warnf(format, args...) }
func (lg Logger) Errorf(format string, args ...interface{}) { lg.entry.Errorf(format, args...) }
