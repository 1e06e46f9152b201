// Package logging wraps zap the way the teacher pack's realtime bridge
// does: a small adapter interface so call sites never import zap
// directly, backed by either a stdout logger or a rotating file logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the narrow surface the rest of the proxy depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, err error, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	l *zap.Logger
}

var _ Logger = (*zapLogger)(nil)

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, err error, fields ...zap.Field) {
	z.l.Error(msg, append(fields, zap.Error(err))...)
}
func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// New builds a production JSON logger writing to stdout.
func New() Logger {
	l, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &zapLogger{l: l}
}

// NewFile builds a logger that writes JSON lines to a rotated file.
func NewFile(path string, maxSizeMB, maxBackups, maxAgeDays int) Logger {
	hook := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(hook),
		zapcore.InfoLevel,
	)
	return &zapLogger{l: zap.New(core, zap.AddCallerSkip(1))}
}

// Noop returns a logger that discards everything; handy in tests.
func Noop() Logger {
	return &zapLogger{l: zap.NewNop()}
}
