package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/deltacache"
)

var _ deltacache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "deltacache".
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("deltacache")} }

func (z ZapLogger) Debug(msg string, f deltacache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f deltacache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f deltacache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f deltacache.Fields) { z.L.Error(msg, zf(f)...) }

// zf converts f in key order so repeated lines render the same way.
func zf(f deltacache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]zap.Field, 0, len(f))
	for _, k := range names {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
