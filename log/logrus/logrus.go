package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/deltacache"
)

var _ deltacache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line from the cache with component=deltacache.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "deltacache")}
}

func (l LogrusLogger) Debug(msg string, f deltacache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f deltacache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f deltacache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f deltacache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f deltacache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E.WithFields(logrus.Fields(f))
	// logrus only renders errors stored under ErrorKey specially
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
	}
	return e
}
