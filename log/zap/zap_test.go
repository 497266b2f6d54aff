package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/deltacache"
)

func TestFieldsAreSortedAndTyped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lg := New(zap.New(core))

	lg.Error("remote write failed", deltacache.Fields{"key": "list:orders:eu", "err": errors.New("timeout"), "attempt": 2})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "deltacache" || e.Level != zapcore.ErrorLevel || e.Message != "remote write failed" {
		t.Fatalf("unexpected entry: %+v", e.Entry)
	}
	names := make([]string, len(e.Context))
	for i, f := range e.Context {
		names[i] = f.Key
	}
	if len(names) != 3 || names[0] != "attempt" || names[1] != "err" || names[2] != "key" {
		t.Fatalf("fields not sorted: %v", names)
	}
	if e.Context[1].Type != zapcore.ErrorType {
		t.Fatalf("error not encoded as an error field")
	}
	if got := e.ContextMap()["key"]; got != "list:orders:eu" {
		t.Fatalf("key=%v", got)
	}
}
