package engine

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapLogger routes Temporal SDK logs to zap.
type ZapLogger struct {
	zl *zap.Logger
}

var (
	_ log.Logger     = (*ZapLogger)(nil)
	_ log.WithLogger = (*ZapLogger)(nil)
)

// NewZapLogger wraps zl. The caller-skip is raised so log lines point at
// the SDK call site rather than this adapter.
func NewZapLogger(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl.WithOptions(zap.AddCallerSkip(1))}
}

func (l *ZapLogger) Debug(msg string, keyvals ...interface{}) {
	l.zl.Debug(msg, fields(keyvals)...)
}

func (l *ZapLogger) Info(msg string, keyvals ...interface{}) {
	l.zl.Info(msg, fields(keyvals)...)
}

func (l *ZapLogger) Warn(msg string, keyvals ...interface{}) {
	l.zl.Warn(msg, fields(keyvals)...)
}

func (l *ZapLogger) Error(msg string, keyvals ...interface{}) {
	l.zl.Error(msg, fields(keyvals)...)
}

// With returns a logger that adds keyvals to every entry.
func (l *ZapLogger) With(keyvals ...interface{}) log.Logger {
	return &ZapLogger{zl: l.zl.With(fields(keyvals)...)}
}

// fields converts alternating key/value pairs. A trailing key without a
// value is kept under "extra".
func fields(keyvals []interface{}) []zap.Field {
	if len(keyvals) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			out = append(out, zap.Any("extra", keyvals[i]))
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if err, isErr := keyvals[i+1].(error); isErr {
			out = append(out, zap.NamedError(key, err))
			continue
		}
		out = append(out, zap.Any(key, keyvals[i+1]))
	}
	return out
}
