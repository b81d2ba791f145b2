package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements the ports.Logger interface on zap's production core,
// emitting structured JSON. Used when LOG_FORMAT=json.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a JSON logger at the given level.
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: z.Sugar()}, nil
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// kvPairs flattens the optional fields map into zap's key-value form.
func kvPairs(fields []map[string]interface{}) []interface{} {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	kv := make([]interface{}, 0, len(fields[0])*2)
	for k, v := range fields[0] {
		kv = append(kv, k, v)
	}
	return kv
}

// Debug logs a message at Debug level.
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Debugw(msg, kvPairs(fields)...)
}

// Info logs a message at Info level.
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Infow(msg, kvPairs(fields)...)
}

// Warn logs a message at Warning level.
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Warnw(msg, kvPairs(fields)...)
}

// Error logs an error message at Error level.
func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	kv := kvPairs(fields)
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	l.sugar.Errorw(msg, kv...)
}

// Sync flushes any buffered log entries. Call on shutdown.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
