package deltacache

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger. Provide an adapter around your logging stack
// (see log/logrus, log/zap, log/slog). If Logger is nil in options, logging is disabled.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// keyFields returns the fields every per-key log line carries plus extra
// name/value pairs. A trailing name without a value is dropped.
func keyFields(ns, key string, kv ...any) Fields {
	f := make(Fields, 2+len(kv)/2)
	f["ns"] = ns
	f["key"] = key
	for i := 0; i+1 < len(kv); i += 2 {
		if name, ok := kv[i].(string); ok {
			f[name] = kv[i+1]
		}
	}
	return f
}
